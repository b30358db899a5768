// ABOUTME: SQLite persistence for the operator's console selection using modernc.org/sqlite
// ABOUTME: Loaded once at startup, saved on every select and cleared on sign-out

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSelection indicates nothing was saved for the operator.
var ErrNoSelection = errors.New("no saved selection")

// Selection is what the operator was looking at.
type Selection struct {
	OperatorID     int64
	ConversationID int64
	Tab            string
	Search         string
	UpdatedAt      time.Time
}

// Store persists selections in a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the state database at path. Parent directories are
// created if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("state database opened", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS selection (
			operator_id     INTEGER PRIMARY KEY,
			conversation_id INTEGER NOT NULL DEFAULT 0,
			tab             TEXT NOT NULL DEFAULT '',
			search          TEXT NOT NULL DEFAULT '',
			updated_at      TEXT NOT NULL
		);
	`)
	return err
}

// Load returns the saved selection for operatorID.
func (s *Store) Load(ctx context.Context, operatorID int64) (Selection, error) {
	var sel Selection
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT operator_id, conversation_id, tab, search, updated_at
		FROM selection WHERE operator_id = ?
	`, operatorID).Scan(&sel.OperatorID, &sel.ConversationID, &sel.Tab, &sel.Search, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Selection{}, ErrNoSelection
	}
	if err != nil {
		return Selection{}, fmt.Errorf("loading selection: %w", err)
	}

	sel.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return Selection{}, fmt.Errorf("parsing selection timestamp %q: %w", updated, err)
	}
	return sel, nil
}

// Save upserts the selection. A zero UpdatedAt is set to now.
func (s *Store) Save(ctx context.Context, sel Selection) error {
	if sel.UpdatedAt.IsZero() {
		sel.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selection (operator_id, conversation_id, tab, search, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(operator_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			tab = excluded.tab,
			search = excluded.search,
			updated_at = excluded.updated_at
	`, sel.OperatorID, sel.ConversationID, sel.Tab, sel.Search, sel.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving selection: %w", err)
	}
	return nil
}

// Clear forgets the operator's selection.
func (s *Store) Clear(ctx context.Context, operatorID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM selection WHERE operator_id = ?`, operatorID); err != nil {
		return fmt.Errorf("clearing selection: %w", err)
	}
	s.logger.Debug("selection cleared", "operator_id", operatorID)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
