// Package mailbox provides access to a remote message store through a
// small transport abstraction and a connection manager that keeps the
// session alive across polling cycles.
package mailbox

import (
	"context"

	"github.com/emersion/go-imap/v2"
)

// Inbox is the standard name of the default folder on the server.
const Inbox = "INBOX"

// Store is a live session to the remote message store.
type Store interface {
	// Connected reports whether the session is still usable.
	Connected() bool

	// Folder resolves a folder by name. The inbox is opened in
	// read-write mode; other folders are resolved as lightweight
	// handles used as move targets only.
	Folder(ctx context.Context, name string) (Folder, error)

	// CreateFolder creates a folder on the server.
	CreateFolder(ctx context.Context, name string) error

	// Close logs out and tears down the session.
	Close() error
}

// Folder is a named remote folder.
type Folder interface {
	Name() string

	// IsOpen reports whether this handle is still usable.
	IsOpen() bool

	// Store returns the backing session.
	Store() Store

	// Messages lists all messages currently in the folder.
	Messages(ctx context.Context) ([]Message, error)

	// Move moves a message into the folder named dest.
	Move(ctx context.Context, msg Message, dest string) error

	// Expunge permanently removes messages flagged as deleted.
	Expunge(ctx context.Context) error

	// Close releases the handle.
	Close(ctx context.Context) error
}

// Message is an opaque handle to one message on the server.
type Message interface {
	// ID returns the stable identifier of the message: the Message-ID
	// header if present, otherwise the store-local sequence number.
	ID() string

	SeqNum() uint32
	Subject() string

	// From returns the sender addresses (bare addresses, no display names).
	From() []string

	// Header returns all values of the named header.
	Header(name string) []string

	// ContentType returns the raw Content-Type header value, or "".
	ContentType() string

	Flags() []imap.Flag
	HasFlag(flag imap.Flag) bool

	// SetFlag adds or removes a flag on the server.
	SetFlag(ctx context.Context, flag imap.Flag, set bool) error

	// Removed reports whether the message vanished from the folder
	// (expunged by another session) since it was listed.
	Removed() bool

	// Raw fetches the full raw message bytes without marking it seen.
	Raw(ctx context.Context) ([]byte, error)
}

// Dialer establishes a fresh session to the message store. onClose is
// invoked when the implementation observes that the server terminated
// the connection; it may be called from any goroutine.
type Dialer interface {
	Dial(ctx context.Context, onClose func()) (Store, error)
}
