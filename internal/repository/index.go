package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

func nowNs() int64 { return time.Now().UnixNano() }

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is the content index: one row per stored metadata artifact (ipfs,
// swarm or partial match) mapping its key to its on-disk path. Source files
// under the sources/ tree are not recorded here. It is a lookup accelerator
// only — the filesystem layout under Store.root remains the durable source
// of truth.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the SQLite content index at path and
// applies pending migrations.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open index: %w", err)
	}
	if err := migrateIndex(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func migrateIndex(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("repository: init migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("repository: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("repository: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("repository: apply migrations: %w", err)
	}
	return nil
}

// Record indexes one stored artifact. A re-insertion of the same key is a
// no-op: write-once per key.
func (idx *Index) Record(key, kind, path string, chainID *int64, address *string) error {
	_, err := idx.db.Exec(
		`INSERT OR IGNORE INTO content_index (key, kind, path, chain_id, address, stored_at_ns) VALUES (?, ?, ?, ?, ?, ?)`,
		key, kind, path, chainID, address, nowNs(),
	)
	if err != nil {
		return fmt.Errorf("repository: record index entry %s: %w", key, err)
	}
	return nil
}

// Lookup returns the stored path for key, if indexed.
func (idx *Index) Lookup(key string) (path string, ok bool, err error) {
	row := idx.db.QueryRow(`SELECT path FROM content_index WHERE key = ?`, key)
	if err := row.Scan(&path); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("repository: lookup %s: %w", key, err)
	}
	return path, true, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }
