// Package storage is the sqlx-backed persistence layer. It speaks both
// SQLite and Postgres; the SQL drivers are imported by the caller.
package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Store wraps the database handle and owns the schema.
type Store struct {
	db      *sqlx.DB
	dialect string
	log     *zerolog.Logger
}

// New opens the database and applies pending schema migrations.
// dialect is the sql driver name ("sqlite" or "postgres").
func New(dialect, dsn string, log *zerolog.Logger) (*Store, error) {
	db, err := sqlx.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", dialect, err)
	}

	if dialect == "sqlite" {
		// WAL keeps readers unblocked while the syncer writes.
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialect, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount, s.versionTableQuery())
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		s.log.Info().Int("version", m.version).Msg("applying schema migration")
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) versionTableQuery() string {
	if s.dialect == "postgres" {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'schema_version'"
	}
	return "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"
}
