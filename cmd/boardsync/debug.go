package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-graphviz"
	"github.com/spf13/cobra"

	"github.com/astromechza/boardsync/pkg/journal"
	"github.com/astromechza/boardsync/pkg/viz"
)

var (
	debugFromArchive bool
	debugFormat      string
	debugOut         string

	debugCmd = &cobra.Command{
		Use:   "debug <journal file | archive id>",
		Short: "Inspect a saved session journal and render its change graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebug,
	}
)

func init() {
	f := debugCmd.Flags()
	f.BoolVar(&debugFromArchive, "from-archive", false, "read the journal from the configured archive instead of a file")
	f.StringVar(&debugFormat, "format", "dot", "graph output format: dot, svg or png")
	f.StringVar(&debugOut, "out", "", "write the graph here instead of stdout")
}

func loadJournal(ctx context.Context, source string) (*journal.Journal, error) {
	if debugFromArchive {
		if cfg.Archive == "" {
			return nil, fmt.Errorf("no archive configured")
		}
		archive, err := journal.OpenArchive(cfg.Archive)
		if err != nil {
			return nil, err
		}
		defer archive.Close()
		return archive.Get(ctx, source)
	}
	buff, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return journal.Load(buff)
}

func runDebug(cmd *cobra.Command, args []string) error {
	format := map[string]graphviz.Format{"dot": graphviz.XDOT, "svg": graphviz.SVG, "png": graphviz.PNG}[debugFormat]
	if format == "" {
		return fmt.Errorf("unknown format %q", debugFormat)
	}

	j, err := loadJournal(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	turns, _ := j.Turns()
	slog.Info("loaded journal", "turns", turns)
	if st, err := j.Latest(); err == nil {
		slog.Info("latest state", "board", st.Board.ID, "columns", len(st.Columns), "notes", len(st.Notes), "participants", len(st.Participants))
	}

	entries, err := j.Entries()
	if err != nil {
		return err
	}
	for i, e := range entries {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", e.Hash, "actor", e.Actor, "label", e.Label, "turn", e.Turn, "notes", e.Notes)
	}

	out := os.Stdout
	if debugOut != "" {
		f, err := os.Create(debugOut)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	return viz.Render(entries, format, out)
}
