package mailbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/config"
)

// headerSection is the body section fetched alongside envelopes so the
// classifier can inspect structured headers without a full body fetch.
var headerSection = &imap.FetchItemBodySection{
	Specifier: imap.PartSpecifierHeader,
	HeaderFields: []string{
		"Content-Type",
		"Content-Class",
		"Message-ID",
	},
	Peek: true,
}

// IMAPDialer dials the configured IMAP server and logs in.
type IMAPDialer struct {
	cfg config.ServerConfig
	log *zap.Logger
}

// NewIMAPDialer creates a dialer for the given server configuration.
func NewIMAPDialer(cfg config.ServerConfig, log *zap.Logger) *IMAPDialer {
	return &IMAPDialer{cfg: cfg, log: log}
}

// Dial establishes a connection to the IMAP server, authenticates, and
// returns the connected store. Login failures are reported as AuthError.
func (d *IMAPDialer) Dial(_ context.Context, onClose func()) (Store, error) {
	addr := d.cfg.Addr()

	s := &imapStore{
		log:      d.log,
		onClose:  onClose,
		expunged: make(map[uint32]struct{}),
	}

	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			// Delivered on the client's reader goroutine, concurrently
			// with an in-progress cycle.
			Expunge: s.noteExpunged,
		},
	}

	var client *imapclient.Client
	var err error
	switch d.cfg.Security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "plain":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if err := client.Login(d.cfg.User, d.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{Host: d.cfg.Host, User: d.cfg.User, Err: err}
	}

	s.client = client
	return s, nil
}

// imapStore implements Store over a single IMAP connection. IMAP allows
// one selected mailbox per connection, so only the inbox is held open;
// other folders are resolved as move targets.
type imapStore struct {
	client  *imapclient.Client
	log     *zap.Logger
	onClose func()

	mu       sync.Mutex
	expunged map[uint32]struct{}
	closed   bool
}

func (s *imapStore) noteExpunged(seqNum uint32) {
	s.mu.Lock()
	s.expunged[seqNum] = struct{}{}
	s.mu.Unlock()
}

func (s *imapStore) isExpunged(seqNum uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.expunged[seqNum]
	return ok
}

func (s *imapStore) Connected() bool {
	if s.client == nil {
		return false
	}
	switch s.client.State() {
	case imap.ConnStateAuthenticated, imap.ConnStateSelected:
		return true
	}
	return false
}

// classify maps an IMAP command error onto the store error taxonomy and
// fires the close notification when the session died underneath us.
func (s *imapStore) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if !s.Connected() {
		s.notifyClosed()
		return fmt.Errorf("%s: %w", op, ErrStoreClosed)
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeNonExistent, imap.ResponseCodeTryCreate:
			return fmt.Errorf("%s: %w", op, ErrFolderNotFound)
		}
	}
	return &ProtocolError{Op: op, Err: err}
}

func (s *imapStore) notifyClosed() {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if !alreadyClosed && s.onClose != nil {
		s.onClose()
	}
}

func (s *imapStore) Folder(ctx context.Context, name string) (Folder, error) {
	if strings.EqualFold(name, Inbox) {
		if _, err := s.client.Select(name, nil).Wait(); err != nil {
			return nil, s.classify("selecting "+name, err)
		}
		return &imapFolder{store: s, name: name, selected: true}, nil
	}

	// Non-inbox folders are move targets; verify existence only.
	if _, err := s.client.Status(name, &imap.StatusOptions{NumMessages: true}).Wait(); err != nil {
		return nil, s.classify("resolving "+name, err)
	}
	return &imapFolder{store: s, name: name}, nil
}

func (s *imapStore) CreateFolder(ctx context.Context, name string) error {
	if err := s.client.Create(name, nil).Wait(); err != nil {
		return s.classify("creating "+name, err)
	}
	return nil
}

func (s *imapStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	if err := s.client.Logout().Wait(); err != nil {
		return s.client.Close()
	}
	return nil
}

// imapFolder implements Folder. selected marks handles backed by the
// connection's selected mailbox; move targets are never selected.
type imapFolder struct {
	store    *imapStore
	name     string
	selected bool
}

func (f *imapFolder) Name() string { return f.name }

func (f *imapFolder) Store() Store { return f.store }

func (f *imapFolder) IsOpen() bool {
	if !f.store.Connected() {
		return false
	}
	if !f.selected {
		return true
	}
	mbox := f.store.client.Mailbox()
	return mbox != nil && strings.EqualFold(mbox.Name, f.name)
}

func (f *imapFolder) Messages(ctx context.Context) ([]Message, error) {
	if !f.selected {
		// Listing re-selects, which invalidates any previously selected
		// handle on this connection.
		if _, err := f.store.client.Select(f.name, nil).Wait(); err != nil {
			return nil, f.store.classify("selecting "+f.name, err)
		}
		f.selected = true
	}

	mbox := f.store.client.Mailbox()
	if mbox == nil || mbox.NumMessages == 0 {
		return nil, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, 0)

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{headerSection},
	}

	fetchCmd := f.store.client.Fetch(seqSet, fetchOpts)
	defer fetchCmd.Close()

	var msgs []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			// Message vanished mid-fetch; skip it, not the batch.
			f.store.log.Warn("skipping unreadable message", zap.Error(err))
			continue
		}

		msgs = append(msgs, messageFromBuffer(f, buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return msgs, f.store.classify("fetching messages in "+f.name, err)
	}

	return msgs, nil
}

func (f *imapFolder) Move(ctx context.Context, msg Message, dest string) error {
	im, ok := msg.(*imapMessage)
	if !ok {
		return fmt.Errorf("moving message %s: foreign message handle", msg.ID())
	}

	if _, err := f.store.client.Move(imap.UIDSetNum(im.uid), dest).Wait(); err != nil {
		return f.store.classify("moving message to "+dest, err)
	}
	return nil
}

func (f *imapFolder) Expunge(ctx context.Context) error {
	if err := f.store.client.Expunge().Close(); err != nil {
		return f.store.classify("expunging "+f.name, err)
	}
	return nil
}

func (f *imapFolder) Close(ctx context.Context) error {
	if !f.selected {
		return nil
	}
	f.selected = false
	if err := f.store.client.Unselect().Wait(); err != nil {
		return f.store.classify("closing "+f.name, err)
	}
	return nil
}

// imapMessage implements Message on top of fetched envelope data.
type imapMessage struct {
	folder  *imapFolder
	uid     imap.UID
	seqNum  uint32
	subject string
	from    []string
	msgID   string
	flags   []imap.Flag
	headers textproto.MIMEHeader
}

// messageFromBuffer builds an imapMessage from a FetchMessageBuffer.
func messageFromBuffer(f *imapFolder, buf *imapclient.FetchMessageBuffer) *imapMessage {
	m := &imapMessage{
		folder: f,
		uid:    buf.UID,
		seqNum: buf.SeqNum,
		flags:  buf.Flags,
	}

	if buf.Envelope != nil {
		m.subject = buf.Envelope.Subject
		m.msgID = buf.Envelope.MessageID
		for _, from := range buf.Envelope.From {
			m.from = append(m.from, from.Addr())
		}
	}

	if raw := buf.FindBodySection(headerSection); raw != nil {
		reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
		if hdr, err := reader.ReadMIMEHeader(); err == nil || len(hdr) > 0 {
			m.headers = hdr
		}
	}

	return m
}

func (m *imapMessage) ID() string {
	if m.msgID != "" {
		return m.msgID
	}
	return fmt.Sprintf("seq-%d", m.seqNum)
}

func (m *imapMessage) SeqNum() uint32  { return m.seqNum }
func (m *imapMessage) Subject() string { return m.subject }
func (m *imapMessage) From() []string  { return m.from }

func (m *imapMessage) Header(name string) []string {
	if m.headers == nil {
		return nil
	}
	return m.headers.Values(name)
}

func (m *imapMessage) ContentType() string {
	values := m.Header("Content-Type")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (m *imapMessage) Flags() []imap.Flag { return m.flags }

func (m *imapMessage) HasFlag(flag imap.Flag) bool {
	for _, f := range m.flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (m *imapMessage) SetFlag(ctx context.Context, flag imap.Flag, set bool) error {
	op := imap.StoreFlagsAdd
	if !set {
		op = imap.StoreFlagsDel
	}

	storeCmd := m.folder.store.client.Store(imap.UIDSetNum(m.uid), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return m.folder.store.classify("storing flags on "+m.ID(), err)
	}

	// Keep the local view in sync so classification stays consistent
	// within the cycle.
	if set && !m.HasFlag(flag) {
		m.flags = append(m.flags, flag)
	} else if !set {
		kept := m.flags[:0]
		for _, f := range m.flags {
			if f != flag {
				kept = append(kept, f)
			}
		}
		m.flags = kept
	}
	return nil
}

func (m *imapMessage) Removed() bool {
	return m.folder.store.isExpunged(m.seqNum)
}

func (m *imapMessage) Raw(ctx context.Context) ([]byte, error) {
	if m.Removed() {
		return nil, fmt.Errorf("fetching message %s: %w", m.ID(), ErrMessageRemoved)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := m.folder.store.client.Fetch(imap.UIDSetNum(m.uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("fetching message %s: %w", m.ID(), ErrMessageRemoved)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, m.folder.store.classify("collecting message "+m.ID(), err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("fetching message %s: empty body section", m.ID())
	}

	if err := fetchCmd.Close(); err != nil {
		return raw, m.folder.store.classify("fetching message "+m.ID(), err)
	}

	return raw, nil
}
