package journal

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotArchived = errors.New("journal not archived")

// Archive keeps saved journals in a sqlite database, one row per board
// session, with the document base64 encoded.
type Archive struct {
	db *sql.DB
}

func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS journals (
		id text not null primary key,
		content text not null,
		updated_at text not null
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Put stores the journal under id. It reports whether the stored content changed.
func (a *Archive) Put(ctx context.Context, id string, j *Journal) (bool, error) {
	content := base64.StdEncoding.EncodeToString(j.Save())
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO journals (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		WHERE journals.content != excluded.content`,
		id, content, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to store journal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (a *Archive) Get(ctx context.Context, id string) (*Journal, error) {
	var content string
	err := a.db.QueryRowContext(ctx, `SELECT content FROM journals WHERE id = ?`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotArchived, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return Load(raw)
}

func (a *Archive) List(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id FROM journals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// BackupContinuously stores j every interval until ctx ends, and once more
// on the way out.
func (a *Archive) BackupContinuously(ctx context.Context, interval time.Duration, id string, j *Journal) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.backup(ctx, id, j)
		case <-ctx.Done():
			a.backup(context.Background(), id, j)
			return
		}
	}
}

func (a *Archive) backup(ctx context.Context, id string, j *Journal) {
	if changed, err := a.Put(ctx, id, j); err != nil {
		slog.Error("failed to backup journal", "id", id, "err", err)
	} else if changed {
		turns, _ := j.Turns()
		slog.Info("backed up", "id", id, "turns", turns)
	}
}
