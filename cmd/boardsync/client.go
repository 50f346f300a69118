package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/collision"
	"github.com/astromechza/boardsync/pkg/connection"
	"github.com/astromechza/boardsync/pkg/dispatch"
	"github.com/astromechza/boardsync/pkg/journal"
	"github.com/astromechza/boardsync/pkg/session"
	"github.com/astromechza/boardsync/pkg/viz"
)

var (
	clientBoard     string
	clientUser      string
	clientNoteEvery time.Duration
	clientDrag      bool

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Join a board and keep its state in sync until interrupted",
		RunE:  runClient,
	}
)

func init() {
	f := clientCmd.Flags()
	f.StringVar(&clientBoard, "board", "", "board to join, overriding the config")
	f.StringVar(&clientUser, "user", "", "user id to join as, overriding the config")
	f.DurationVar(&clientNoteEvery, "add-note-every", 0, "add a note to the first column at about this interval; 0 disables")
	f.BoolVar(&clientDrag, "drag", false, "drag each scripted note onto another note once it is added")
}

func runClient(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("board") {
		cfg.Board = clientBoard
	}
	if cmd.Flags().Changed("user") {
		cfg.User = clientUser
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	baseUrl, err := url.Parse(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to parse server url: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store := board.NewStore(cfg.User)
	j, err := journal.New(cfg.User)
	if err != nil {
		return err
	}
	store.Subscribe(j.Listener())
	store.Subscribe(func(label string, st *board.State) {
		slog.Debug("turn", "label", label, "notes", len(st.Notes), "participants", len(st.Participants))
	})

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	apiClient := api.NewClient(baseUrl, cfg.User, httpClient)
	manager := connection.NewManager(baseUrl, cfg.User)
	d := dispatch.New(cfg.Board, cfg.User, store, apiClient,
		dispatch.WithContext(ctx),
		dispatch.WithTimeout(cfg.RequestTimeout))
	s := session.New(store, connection.NewAdmission(apiClient, manager, cfg.User), manager, session.Options{
		BoardID:           cfg.Board,
		Passphrase:        cfg.Passphrase,
		SnapshotTimeout:   cfg.SnapshotTimeout,
		ReconnectInterval: cfg.ReconnectInterval,
		OnSnapshot:        d.Reconciled,
	})

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveMetrics(ctx, cfg.MetricsAddr)
	}()

	if cfg.Archive != "" {
		archive, err := journal.OpenArchive(cfg.Archive)
		if err != nil {
			return err
		}
		defer archive.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			archive.BackupContinuously(ctx, cfg.BackupInterval, cfg.Board+"/"+cfg.User, j)
		}()
	}

	if clientNoteEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resolver *collision.Resolver
			if clientDrag {
				resolver = collision.NewResolver(cfg.CollisionThreshold)
			}
			addNotesContinuously(ctx, store, d, resolver, clientNoteEvery)
		}()
	}

	runErr := s.Run(ctx)
	cancel()
	wg.Wait()

	if err := dumpJournal(j); err != nil {
		slog.Error("failed to dump journal", "err", err)
	}
	if pending := d.Pending().List(); len(pending) > 0 {
		slog.Warn("unconfirmed changes", "count", len(pending))
	}
	if errors.Is(runErr, session.ErrBoardDeleted) {
		slog.Info("board was deleted")
		return nil
	}
	return runErr
}

// addNotesContinuously adds a note every so often. With a resolver, each new
// note is then dragged somewhere else on the board.
func addNotesContinuously(ctx context.Context, store *board.Store, d *dispatch.Dispatcher, resolver *collision.Resolver, every time.Duration) {
	n := 0
	for {
		t := time.NewTimer(every/2 + time.Duration(rand.Int63n(int64(every))))
		select {
		case <-t.C:
			var column string
			store.View(func(st *board.State) {
				if cols := st.SortedColumns(); len(cols) > 0 {
					column = cols[0].ID
				}
			})
			if column == "" {
				continue
			}
			n++
			id, err := d.AddNote(column, fmt.Sprintf("note %d", n))
			if err != nil {
				slog.Error("failed to add note", "err", err)
				continue
			}
			slog.Info("added note", "note", id, "column", column)
			if resolver != nil {
				dragNote(resolver, store, d, id)
			}
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled notes")
			return
		}
	}
}

func dumpJournal(j *journal.Journal) error {
	path := cfg.Journal
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("boardsync-%s-%s.automerge", cfg.Board, cfg.User))
	}
	if err := os.WriteFile(path, j.Save(), 0o644); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	slog.Info("dumped", "journal", path)
	if svgPath, err := viz.RenderToTemp(j); err != nil {
		return fmt.Errorf("failed to render journal: %w", err)
	} else {
		slog.Info("rendered", "path", "file://"+svgPath)
	}
	return nil
}
