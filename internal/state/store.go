// Package state manages the per-account SQLite databases that track which
// Chessnut games have already been imported into Lichess.
//
// Each account gets its own database file under the state directory, so one
// account's writes can never block or corrupt another's. Only this package
// may open or query the databases. All other packages receive a [*Store] and
// call its methods.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/chessrelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS import_records (
    game_id     INTEGER PRIMARY KEY,
    lichess_id  TEXT NOT NULL DEFAULT '',
    lichess_url TEXT NOT NULL DEFAULT '',
    imported_at TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed import-record repository. It lazily opens one
// database per account name and keeps the handles for the process lifetime.
type Store struct {
	dir string
	log *slog.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// Open prepares a Store rooted at dir, creating the directory if needed.
// Individual account databases are opened on first use.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory %q: %w", dir, err)
	}
	return &Store{dir: dir, log: logger, dbs: make(map[string]*sql.DB)}, nil
}

// Close releases all open account databases.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for account, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing state for %q: %w", account, err))
		}
		delete(s.dbs, account)
	}
	return errors.Join(errs...)
}

// Path returns the database file path for the given account.
func (s *Store) Path(account string) string {
	return filepath.Join(s.dir, account+".db")
}

// db returns the open database for account, opening and migrating it on
// first use. Failed opens are not cached so a transient failure can recover
// on the next call.
func (s *Store) db(account string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[account]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite3", s.Path(account)+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening state for %q: %w", account, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema for %q: %w", account, err)
	}

	s.dbs[account] = db
	return db, nil
}

// Watermark returns the highest game id recorded for the account, or 0 when
// the account has no history. A missing or unreadable state file is treated
// as "no history", never as an error — the engine then re-imports from the
// start and the destination's duplicate handling absorbs the overlap.
func (s *Store) Watermark(ctx context.Context, account string) int64 {
	db, err := s.db(account)
	if err != nil {
		s.log.Warn("state unreadable, assuming no history", "account", account, "error", err)
		return 0
	}

	var max int64
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(game_id), 0) FROM import_records`).Scan(&max)
	if err != nil {
		s.log.Warn("watermark query failed, assuming no history", "account", account, "error", err)
		return 0
	}
	return max
}

// RecordImport durably appends one import record for the account. Re-recording
// the same game id replaces the previous row, so a post-crash re-submission
// is harmless.
func (s *Store) RecordImport(ctx context.Context, account string, rec model.ImportRecord) error {
	db, err := s.db(account)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO import_records (game_id, lichess_id, lichess_url, imported_at, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
		    lichess_id  = excluded.lichess_id,
		    lichess_url = excluded.lichess_url,
		    imported_at = excluded.imported_at,
		    error       = excluded.error`

	_, err = db.ExecContext(ctx, q,
		rec.GameID,
		rec.LichessID,
		rec.LichessURL,
		formatTime(rec.ImportedAt),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("recording import of game %d for %q: %w", rec.GameID, account, err)
	}
	return nil
}

// Records returns all import records for the account, ascending by game id.
func (s *Store) Records(ctx context.Context, account string) ([]model.ImportRecord, error) {
	db, err := s.db(account)
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT game_id, lichess_id, lichess_url, imported_at, error
		FROM import_records ORDER BY game_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying records for %q: %w", account, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.ImportRecord
	for rows.Next() {
		var rec model.ImportRecord
		var importedAt string
		if err := rows.Scan(&rec.GameID, &rec.LichessID, &rec.LichessURL, &importedAt, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		rec.ImportedAt, _ = parseTime(importedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
