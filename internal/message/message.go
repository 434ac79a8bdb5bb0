// Package message turns raw messages from the store into classified,
// decoded values: plain mail, server report mail, or meeting invitation.
package message

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/mailbox"
)

// Category tags a classified message.
type Category int

const (
	// CategoryMail is ordinary mail from an external or internal sender.
	CategoryMail Category = iota
	// CategoryReport is a server-generated delivery report.
	CategoryReport
	// CategoryMeeting is a calendar meeting invitation.
	CategoryMeeting
)

func (c Category) String() string {
	switch c {
	case CategoryReport:
		return "report"
	case CategoryMeeting:
		return "meeting"
	default:
		return "mail"
	}
}

// Mail wraps a raw message with decoded content. The body, body content
// type and attachment list are computed on first access and cached for
// the lifetime of the wrapper; the underlying handle is not re-fetched.
type Mail struct {
	mailbox.Message

	once     sync.Once
	body     string
	bodyType string
	atts     []*Attachment
	err      error
}

// NewMail wraps a raw message.
func NewMail(msg mailbox.Message) *Mail {
	return &Mail{Message: msg}
}

func (m *Mail) ensureContent(ctx context.Context) error {
	m.once.Do(func() {
		raw, err := m.Raw(ctx)
		if err != nil {
			m.err = err
			return
		}
		parsed := parseContent(raw, m.ContentType())
		m.body = parsed.body
		m.bodyType = parsed.bodyType
		m.atts = parsed.atts
	})
	return m.err
}

// Body returns the decoded message body.
func (m *Mail) Body(ctx context.Context) (string, error) {
	if err := m.ensureContent(ctx); err != nil {
		return "", err
	}
	return m.body, nil
}

// BodyContentType returns the content type of the chosen body part,
// lower-cased with parameters stripped.
func (m *Mail) BodyContentType(ctx context.Context) (string, error) {
	if err := m.ensureContent(ctx); err != nil {
		return "", err
	}
	return m.bodyType, nil
}

// Attachments returns the ordered attachment list.
func (m *Mail) Attachments(ctx context.Context) ([]*Attachment, error) {
	if err := m.ensureContent(ctx); err != nil {
		return nil, err
	}
	return m.atts, nil
}

// IsFrom reports whether any sender address equals addr,
// case-insensitively.
func (m *Mail) IsFrom(addr string) bool {
	if addr == "" {
		return false
	}
	for _, from := range m.From() {
		if strings.EqualFold(from, addr) {
			return true
		}
	}
	return false
}

// Meeting is a mail carrying a calendar invitation, with lazy access to
// its parsed meeting properties.
type Meeting struct {
	*Mail
	log *zap.Logger

	propsOnce sync.Once
	props     Properties
	propsErr  error
}

// NewMeeting wraps a raw message classified as a meeting.
func NewMeeting(msg mailbox.Message, log *zap.Logger) *Meeting {
	return &Meeting{Mail: NewMail(msg), log: log}
}

// Props parses and returns the calendar property list, memoized after
// the first call.
func (m *Meeting) Props(ctx context.Context) (Properties, error) {
	m.propsOnce.Do(func() {
		raw, err := m.Raw(ctx)
		if err != nil {
			m.propsErr = err
			return
		}
		m.props = ParseCalendar(raw)
	})
	return m.props, m.propsErr
}

// Start returns the meeting start time. A missing or unparsable date is
// logged and reported via the second return value.
func (m *Meeting) Start(ctx context.Context) (time.Time, bool) {
	return m.date(ctx, "start", Properties.Start)
}

// End returns the meeting end time.
func (m *Meeting) End(ctx context.Context) (time.Time, bool) {
	return m.date(ctx, "end", Properties.End)
}

func (m *Meeting) date(ctx context.Context, which string, get func(Properties) (time.Time, bool)) (time.Time, bool) {
	props, err := m.Props(ctx)
	if err != nil {
		m.log.Warn("cannot parse meeting properties",
			zap.String("mail", m.ID()), zap.Error(err))
		return time.Time{}, false
	}
	t, ok := get(props)
	if !ok {
		m.log.Warn("meeting date missing or unparsable",
			zap.String("mail", m.ID()), zap.String("date", which))
	}
	return t, ok
}

// Location returns the meeting location, or "".
func (m *Meeting) Location(ctx context.Context) string {
	props, err := m.Props(ctx)
	if err != nil {
		return ""
	}
	return props.Location()
}

// Description returns the meeting description with escape sequences
// expanded, or "".
func (m *Meeting) Description(ctx context.Context) string {
	props, err := m.Props(ctx)
	if err != nil {
		return ""
	}
	return props.Description()
}

// Participants returns the attendee and organizer addresses.
func (m *Meeting) Participants(ctx context.Context) []string {
	props, err := m.Props(ctx)
	if err != nil {
		return nil
	}
	return props.Participants()
}

// Organizer returns the organizer address, or "".
func (m *Meeting) Organizer(ctx context.Context) string {
	props, err := m.Props(ctx)
	if err != nil {
		return ""
	}
	return props.Organizer()
}
