package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteJournal implements the Journal interface using a local SQLite
// database.
type SQLiteJournal struct {
	db *sqlx.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return j, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (j *SQLiteJournal) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := j.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = j.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Seen reports whether a mail ID was already marked processed.
func (j *SQLiteJournal) Seen(ctx context.Context, mailID string) (bool, error) {
	var count int
	err := j.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_mails WHERE mail_id = ?", mailID)
	if err != nil {
		return false, fmt.Errorf("checking mail %s: %w", mailID, err)
	}
	return count > 0, nil
}

// ResolveOwner looks up the folder bound to a sender address. A nil
// result means the address has no binding.
func (j *SQLiteJournal) ResolveOwner(ctx context.Context, fromAddr string) (*FolderOwner, error) {
	var owner FolderOwner
	err := j.db.GetContext(ctx, &owner,
		"SELECT address, folder, bound FROM folder_owners WHERE address = ?", fromAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving owner for %s: %w", fromAddr, err)
	}
	return &owner, nil
}

// BindOwner inserts or replaces the folder binding for an address.
func (j *SQLiteJournal) BindOwner(ctx context.Context, owner FolderOwner) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO folder_owners (address, folder, bound) VALUES (?, ?, ?)",
		owner.Address, owner.Folder, owner.Bound)
	if err != nil {
		return fmt.Errorf("binding owner %s: %w", owner.Address, err)
	}
	return nil
}

// Begin opens a cycle transaction.
func (j *SQLiteJournal) Begin(ctx context.Context) (Tx, error) {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) MarkProcessed(ctx context.Context, mailID, category string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO processed_mails (mail_id, category, processed_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		mailID, category)
	if err != nil {
		return fmt.Errorf("marking mail %s processed: %w", mailID, err)
	}
	return nil
}

func (t *sqliteTx) RecordCycle(ctx context.Context, stats CycleStats) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cycles (
			id, started_at, mails_ok, mails_failed, meetings_ok, meetings_failed
		) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), stats.StartedAt.UTC(),
		stats.MailsOK, stats.MailsFailed, stats.MeetingsOK, stats.MeetingsFailed)
	if err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}
