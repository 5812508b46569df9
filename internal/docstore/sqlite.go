package docstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	appLog "dockycal/internal/log"
	"dockycal/internal/model"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore keeps a collection as rows of a shared documents table.
type SQLiteStore struct {
	db         *sql.DB
	collection string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path, collection string) (*SQLiteStore, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, ErrCollectionRequired
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY from our own goroutines
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, collection: collection}, nil
}

func applyMigrations(db *sql.DB) error {
	goose.SetLogger(gooseLogger{})
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, start_at, end_at, description, color, external_event_id
		FROM documents
		WHERE collection = ?
		ORDER BY id`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		var (
			ev         model.Event
			start, end any
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &start, &end, &ev.Description, &ev.Color, &ev.ExternalEventID); err != nil {
			return nil, err
		}
		if ev.Start, err = ParseTimestamp(start); err != nil {
			appLog.Error("docstore: skipping row with bad start", err, "id", ev.ID)
			continue
		}
		if ev.End, err = ParseTimestamp(end); err != nil {
			appLog.Error("docstore: skipping row with bad end", err, "id", ev.ID)
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		return errors.New("docstore: event id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, title, start_at, end_at, description, color, external_event_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			title = excluded.title,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			description = excluded.description,
			color = excluded.color,
			external_event_id = excluded.external_event_id,
			updated_at = excluded.updated_at`,
		s.collection, ev.ID, ev.Title,
		ev.Start.UTC().Format(time.RFC3339Nano),
		ev.End.UTC().Format(time.RFC3339Nano),
		ev.Description, ev.Color, ev.ExternalEventID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", ev.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, s.collection, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// gooseLogger routes migration output through the application logger.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	appLog.Info("goose: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (gooseLogger) Fatalf(format string, v ...any) {
	appLog.Error("goose: fatal", fmt.Errorf(format, v...))
}
