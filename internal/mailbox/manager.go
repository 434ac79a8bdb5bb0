package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// storeRef and folderRef wrap the cached handles so they can sit behind
// atomic pointers. The server-initiated close notification clears them
// with a compare-and-swap from the network goroutine while a cycle may
// be running.
type storeRef struct{ store Store }

type folderRef struct{ folder Folder }

// Manager owns the session to the message store and the cached inbox
// handle. Only the inbox is cached across cycles; other folders are
// resolved per request to bound memory and avoid stale handles for
// rarely used folders.
type Manager struct {
	dialer Dialer
	log    *zap.Logger

	// mu serializes connect/reconnect; the cached references stay
	// atomically swappable so Invalidate never has to wait for an
	// in-progress cycle.
	mu    sync.Mutex
	store atomic.Pointer[storeRef]
	inbox atomic.Pointer[folderRef]
}

// NewManager creates a connection manager over the given dialer.
func NewManager(dialer Dialer, log *zap.Logger) *Manager {
	return &Manager{dialer: dialer, log: log}
}

// Connect returns the live store, logging in only when there is no
// usable session yet. The manager performs no login retries of its own;
// retry policy lives in the polling daemon.
func (m *Manager) Connect(ctx context.Context) (Store, error) {
	if ref := m.store.Load(); ref != nil && ref.store.Connected() {
		return ref.store, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have connected while we waited for the lock.
	if ref := m.store.Load(); ref != nil && ref.store.Connected() {
		return ref.store, nil
	}

	store, err := m.dialer.Dial(ctx, m.Invalidate)
	if err != nil {
		return nil, err
	}

	m.store.Store(&storeRef{store: store})
	m.inbox.Store(nil)
	return store, nil
}

// Connected reports whether a usable session exists.
func (m *Manager) Connected() bool {
	ref := m.store.Load()
	return ref != nil && ref.store.Connected()
}

// Folder resolves a folder by name with one internal retry: when the
// store reports closed during resolution, the manager reconnects once
// and retries before surfacing the failure.
func (m *Manager) Folder(ctx context.Context, name string) (Folder, error) {
	store, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}

	folder, err := store.Folder(ctx, name)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, ErrStoreClosed) {
		return nil, err
	}

	m.log.Warn("store closed while resolving folder, reconnecting",
		zap.String("folder", name))

	store, rerr := m.Reconnect(ctx)
	if rerr != nil {
		return nil, fmt.Errorf("resolving folder %s: %w", name, rerr)
	}
	return store.Folder(ctx, name)
}

// Inbox returns the cached inbox handle when it is still open and its
// backing store connected; otherwise the stale handle is discarded and
// the inbox re-opened in read-write mode. A stale handle is never
// silently reused.
func (m *Manager) Inbox(ctx context.Context) (Folder, error) {
	if ref := m.inbox.Load(); ref != nil {
		if ref.folder.IsOpen() && ref.folder.Store().Connected() {
			return ref.folder, nil
		}
		// Compare-and-clear: the close callback may already have
		// swapped the reference out.
		m.inbox.CompareAndSwap(ref, nil)
		m.log.Debug("discarded stale inbox handle")
	}

	folder, err := m.Folder(ctx, Inbox)
	if err != nil {
		return nil, err
	}

	m.inbox.Store(&folderRef{folder: folder})
	return folder, nil
}

// Invalidate clears the cached store and inbox references. It is called
// from the transport's event goroutine when the server terminates the
// connection, possibly concurrently with a cycle in progress.
func (m *Manager) Invalidate() {
	if ref := m.inbox.Load(); ref != nil {
		m.inbox.CompareAndSwap(ref, nil)
	}
	if ref := m.store.Load(); ref != nil {
		m.store.CompareAndSwap(ref, nil)
		m.log.Debug("store connection invalidated")
	}
}

// Disconnect closes the current session, ignoring close errors, and
// clears all cached handles.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref := m.store.Swap(nil); ref != nil {
		if err := ref.store.Close(); err != nil {
			m.log.Debug("closing store", zap.Error(err))
		}
	}
	m.inbox.Store(nil)
}

// Reconnect tears down any existing session and performs a fresh login.
func (m *Manager) Reconnect(ctx context.Context) (Store, error) {
	m.Disconnect()
	return m.Connect(ctx)
}
