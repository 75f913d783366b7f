package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dvloznov/finance-sync/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - documents and synced_queries
// 2 - index on documents(collection, uid)
const currentSchemaVersion = 2

// Store persists the last known server state of every query in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the cache database at path.
// The database uses WAL mode and a single connection, so ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("Open: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(collection, uid)"); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Load returns the cached documents of q as a complete snapshot of Added
// changes ordered by id.
// It returns remote.ErrCacheMiss when q was never synced.
func (s *Store) Load(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	var syncedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT synced_at FROM synced_queries WHERE collection = ? AND uid = ?`,
		string(q.Collection), q.UID,
	).Scan(&syncedAt)
	if err == sql.ErrNoRows {
		return remote.Snapshot{}, fmt.Errorf("Load %s: %w", q, remote.ErrCacheMiss)
	}
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("Load %s: %w", q, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? AND uid = ? ORDER BY id`,
		string(q.Collection), q.UID,
	)
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("Load %s: %w", q, err)
	}
	defer rows.Close()

	snap := remote.Snapshot{Collection: q.Collection, FromCache: true, Complete: true}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return remote.Snapshot{}, fmt.Errorf("Load %s: scan: %w", q, err)
		}
		snap.Changes = append(snap.Changes, remote.ChangeEvent{
			Kind: remote.Added,
			Doc:  remote.Document{ID: id, Data: []byte(data)},
		})
	}
	if err := rows.Err(); err != nil {
		return remote.Snapshot{}, fmt.Errorf("Load %s: %w", q, err)
	}
	return snap, nil
}

// Replace stores snap as the complete content of q.
func (s *Store) Replace(ctx context.Context, q remote.Query, snap remote.Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND uid = ?`,
			string(q.Collection), q.UID,
		); err != nil {
			return fmt.Errorf("Replace %s: %w", q, err)
		}
		if err := s.applyChanges(ctx, tx, q, snap.Changes); err != nil {
			return fmt.Errorf("Replace %s: %w", q, err)
		}
		return nil
	})
}

// Apply folds the changes of snap into the cached content of q.
func (s *Store) Apply(ctx context.Context, q remote.Query, snap remote.Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.applyChanges(ctx, tx, q, snap.Changes); err != nil {
			return fmt.Errorf("Apply %s: %w", q, err)
		}
		return nil
	})
}

// Forget drops every cached document of uid.
func (s *Store) Forget(ctx context.Context, uid string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE uid = ?`, uid); err != nil {
			return fmt.Errorf("Forget: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM synced_queries WHERE uid = ?`, uid); err != nil {
			return fmt.Errorf("Forget: %w", err)
		}
		return nil
	})
}

func (s *Store) applyChanges(ctx context.Context, tx *sql.Tx, q remote.Query, changes []remote.ChangeEvent) error {
	now := s.now().UnixMilli()
	for _, c := range changes {
		switch c.Kind {
		case remote.Removed:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`,
				string(q.Collection), c.Doc.ID,
			); err != nil {
				return fmt.Errorf("delete %s: %w", c.Doc.ID, err)
			}
		case remote.Added, remote.Modified:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, uid, data, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(collection, id) DO UPDATE SET uid = excluded.uid, data = excluded.data, updated_at = excluded.updated_at
			`, string(q.Collection), c.Doc.ID, q.UID, string(c.Doc.Data), now); err != nil {
				return fmt.Errorf("upsert %s: %w", c.Doc.ID, err)
			}
		default:
			return fmt.Errorf("unknown change kind %q", c.Kind)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO synced_queries (collection, uid, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(collection, uid) DO UPDATE SET synced_at = excluded.synced_at
	`, string(q.Collection), q.UID, now); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
