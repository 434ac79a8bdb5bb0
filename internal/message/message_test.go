package message_test

import (
	"context"

	"github.com/emersion/go-imap/v2"
)

// fakeMessage is an in-memory mailbox.Message for parser tests.
type fakeMessage struct {
	id          string
	seqNum      uint32
	subject     string
	from        []string
	headers     map[string][]string
	contentType string
	flags       []imap.Flag
	removed     bool
	raw         []byte
	rawCalls    int
	rawErr      error
}

func (m *fakeMessage) ID() string {
	if m.id == "" {
		return "<fake@test>"
	}
	return m.id
}

func (m *fakeMessage) SeqNum() uint32  { return m.seqNum }
func (m *fakeMessage) Subject() string { return m.subject }
func (m *fakeMessage) From() []string  { return m.from }

func (m *fakeMessage) Header(name string) []string {
	return m.headers[name]
}

func (m *fakeMessage) ContentType() string {
	if m.contentType != "" {
		return m.contentType
	}
	if values := m.headers["Content-Type"]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func (m *fakeMessage) Flags() []imap.Flag { return m.flags }

func (m *fakeMessage) HasFlag(flag imap.Flag) bool {
	for _, f := range m.flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (m *fakeMessage) SetFlag(_ context.Context, flag imap.Flag, set bool) error {
	if set {
		if !m.HasFlag(flag) {
			m.flags = append(m.flags, flag)
		}
		return nil
	}
	kept := m.flags[:0]
	for _, f := range m.flags {
		if f != flag {
			kept = append(kept, f)
		}
	}
	m.flags = kept
	return nil
}

func (m *fakeMessage) Removed() bool { return m.removed }

func (m *fakeMessage) Raw(context.Context) ([]byte, error) {
	m.rawCalls++
	if m.rawErr != nil {
		return nil, m.rawErr
	}
	return m.raw, nil
}
