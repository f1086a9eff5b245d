package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/reportlens/dbopen"
)

// Schema contains the DDL for the settings tables.
const Schema = `
-- Derived column toggles: one row per descriptor key the operator changed.
CREATE TABLE IF NOT EXISTS derived_columns (
    key     TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL
);

-- Original report columns hidden by the operator, keyed by header text.
CREATE TABLE IF NOT EXISTS hidden_columns (
    header TEXT PRIMARY KEY
);
`

// Store is the settings database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the settings database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	// One connection keeps this process's own saves from bumping the PRAGMA
	// data_version token the hot-reload watcher polls on this handle.
	db.SetMaxOpenConns(1)
	return &Store{DB: db}, nil
}

// New wraps an already-open database (tests use dbopen.OpenMemory).
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Load reads the stored configuration merged over Defaults. Stored rows
// overlay the defaults; descriptor keys with no stored row keep their
// built-in enabled state.
func (s *Store) Load(ctx context.Context) (Config, error) {
	cfg := Defaults()

	rows, err := s.DB.QueryContext(ctx, `SELECT key, enabled FROM derived_columns`)
	if err != nil {
		return cfg, fmt.Errorf("settings: load derived: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var enabled int
		if err := rows.Scan(&key, &enabled); err != nil {
			return cfg, fmt.Errorf("settings: scan derived: %w", err)
		}
		cfg.DerivedEnabled[key] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("settings: load derived: %w", err)
	}

	hrows, err := s.DB.QueryContext(ctx, `SELECT header FROM hidden_columns`)
	if err != nil {
		return cfg, fmt.Errorf("settings: load hidden: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var header string
		if err := hrows.Scan(&header); err != nil {
			return cfg, fmt.Errorf("settings: scan hidden: %w", err)
		}
		cfg.HiddenOriginal[header] = true
	}
	if err := hrows.Err(); err != nil {
		return cfg, fmt.Errorf("settings: load hidden: %w", err)
	}

	return cfg, nil
}

// Save replaces the stored configuration with cfg in one transaction.
// Whole-config last-write-wins: concurrent savers do not merge.
func (s *Store) Save(ctx context.Context, cfg Config) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM derived_columns`); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM hidden_columns`); err != nil {
			return err
		}
		for key, enabled := range cfg.DerivedEnabled {
			v := 0
			if enabled {
				v = 1
			}
			if _, err := tx.Exec(`INSERT INTO derived_columns (key, enabled) VALUES (?,?)`, key, v); err != nil {
				return err
			}
		}
		for header, hidden := range cfg.HiddenOriginal {
			if !hidden {
				continue
			}
			if _, err := tx.Exec(`INSERT INTO hidden_columns (header) VALUES (?)`, header); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}
