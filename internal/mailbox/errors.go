package mailbox

import (
	"errors"
	"fmt"
)

// ErrStoreClosed indicates that the session was terminated while a
// folder was being resolved. The manager reconnects once and retries.
var ErrStoreClosed = errors.New("mailbox: store closed")

// ErrFolderNotFound indicates that a named folder does not exist.
var ErrFolderNotFound = errors.New("mailbox: folder not found")

// ErrMessageRemoved indicates that a message vanished from its folder
// mid-operation. Callers skip the message and continue the batch.
var ErrMessageRemoved = errors.New("mailbox: message removed")

// AuthError reports a failed login, carrying the host/user context.
type AuthError struct {
	Host string
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox: login to %s as %s failed: %v", e.Host, e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a login failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ProtocolError wraps a transport-level failure of a single operation.
// The daemon leaves messages untouched when a handler fails with a
// protocol error, so the next cycle can retry them.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mailbox: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is a transport-level failure.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}
