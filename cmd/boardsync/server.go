package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/sim"
)

var (
	serverBoard      string
	serverOwner      string
	serverPolicy     string
	serverPassphrase string
	serverColumns    []string

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Run an in-memory board server for local testing",
		RunE:  runServer,
	}
)

func init() {
	f := serverCmd.Flags()
	f.StringVar(&serverBoard, "board", "default", "id of the board to seed")
	f.StringVar(&serverOwner, "owner", "owner", "user id of the board owner")
	f.StringVar(&serverPolicy, "policy", string(board.AccessPublic), "access policy: PUBLIC, BY_PASSPHRASE or BY_INVITE")
	f.StringVar(&serverPassphrase, "passphrase", "", "passphrase for BY_PASSPHRASE boards")
	f.StringSliceVar(&serverColumns, "columns", []string{"Went well", "To improve", "Action items"}, "names of the seeded columns")
}

func runServer(cmd *cobra.Command, args []string) error {
	policy := board.AccessPolicy(strings.ToUpper(serverPolicy))
	switch policy {
	case board.AccessPublic, board.AccessByPassphrase, board.AccessByInvite:
	default:
		return fmt.Errorf("unknown access policy %q", serverPolicy)
	}

	columns := make([]board.Column, len(serverColumns))
	for i, name := range serverColumns {
		columns[i] = board.Column{ID: fmt.Sprintf("c%d", i+1), Name: name, Visible: true, Index: i}
	}

	s := sim.New()
	if err := s.CreateBoard(
		board.Board{ID: serverBoard, Name: serverBoard, AccessPolicy: policy, ShowAuthors: true, AllowStacking: true},
		columns,
		board.User{ID: serverOwner, Name: serverOwner},
		serverPassphrase,
	); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	httpServer := &http.Server{Addr: cfg.Listen, Handler: s.Handler()}
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveMetrics(ctx, cfg.MetricsAddr)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Listen, "board", serverBoard, "policy", policy)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	s.Close()
	_ = httpServer.Close()
	wg.Wait()
	return nil
}
