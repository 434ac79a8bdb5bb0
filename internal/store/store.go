// Package store persists the connector's processing state: which mails
// have been handled, per-cycle statistics, and the binding of sender
// addresses to mailbox folders.
package store

import (
	"context"
	"time"
)

// ProcessedMail is the journal record for a handled message.
type ProcessedMail struct {
	MailID      string    `db:"mail_id"`
	Category    string    `db:"category"`
	ProcessedAt time.Time `db:"processed_at"`
}

// CycleStats summarizes one polling cycle.
type CycleStats struct {
	StartedAt      time.Time `db:"started_at"`
	MailsOK        int       `db:"mails_ok"`
	MailsFailed    int       `db:"mails_failed"`
	MeetingsOK     int       `db:"meetings_ok"`
	MeetingsFailed int       `db:"meetings_failed"`
}

// FolderOwner binds a sender address to the mailbox folder that owns
// its messages.
type FolderOwner struct {
	Address string `db:"address"`
	Folder  string `db:"folder"`
	Bound   bool   `db:"bound"`
}

// Journal is the persistence interface for processing state. Begin
// opens a cycle transaction; reads may run outside a transaction.
type Journal interface {
	Begin(ctx context.Context) (Tx, error)
	Seen(ctx context.Context, mailID string) (bool, error)
	ResolveOwner(ctx context.Context, fromAddr string) (*FolderOwner, error)
	BindOwner(ctx context.Context, owner FolderOwner) error
	Close() error
}

// Tx batches the writes of one polling cycle. Commit makes the cycle's
// processing marks durable; Rollback discards them.
type Tx interface {
	MarkProcessed(ctx context.Context, mailID, category string) error
	RecordCycle(ctx context.Context, stats CycleStats) error
	Commit() error
	Rollback() error
}
