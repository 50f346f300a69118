// Package viz draws the change graph of a session journal.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/boardsync/pkg/journal"
)

// Label is the node text for one journal entry.
func Label(e journal.Entry) string {
	short := e.Hash
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s %s@%d\n%s\nturn %d, %d notes", short, e.Actor, e.Seq, e.Label, e.Turn, e.Notes)
}

// Render writes the entries as a graph in the given format.
func Render(entries []journal.Entry, format graphviz.Format, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodes := make(map[string]*cgraph.Node, len(entries))
	edges := 0
	for _, e := range entries {
		n, err := graph.CreateNode(e.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(Label(e))
		nodes[e.Hash] = n

		for _, parent := range e.Parents {
			from, ok := nodes[parent]
			if !ok {
				return fmt.Errorf("change %s depends on unknown change %s", e.Hash, parent)
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), from, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderToFile writes an SVG of the journal's change graph to path.
func RenderToFile(j *journal.Journal, path string) error {
	entries, err := j.Entries()
	if err != nil {
		return err
	}
	var buff bytes.Buffer
	if err := Render(entries, graphviz.SVG, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(path, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RenderToTemp is RenderToFile into a fresh temporary file.
func RenderToTemp(j *journal.Journal) (string, error) {
	f, err := os.CreateTemp("", "boardsync-*.svg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	_ = f.Close()
	if err := RenderToFile(j, f.Name()); err != nil {
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
