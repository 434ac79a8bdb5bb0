package reply

import (
	"context"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/config"
	"github.com/mailbridge/mailbridge/internal/message"
)

type stubMessage struct {
	id      string
	subject string
	from    []string
}

func (m *stubMessage) ID() string                  { return m.id }
func (m *stubMessage) SeqNum() uint32              { return 1 }
func (m *stubMessage) Subject() string             { return m.subject }
func (m *stubMessage) From() []string              { return m.from }
func (m *stubMessage) Header(string) []string      { return nil }
func (m *stubMessage) ContentType() string         { return "text/calendar" }
func (m *stubMessage) Flags() []imap.Flag          { return nil }
func (m *stubMessage) HasFlag(imap.Flag) bool      { return false }
func (m *stubMessage) Removed() bool               { return false }

func (m *stubMessage) SetFlag(context.Context, imap.Flag, bool) error { return nil }

func (m *stubMessage) Raw(context.Context) ([]byte, error) {
	return []byte("Content-Type: text/calendar\r\n\r\nORGANIZER:mailto:org@example.org\r\n"), nil
}

func testSender() *Sender {
	return NewSender(config.SMTPConfig{
		Host:        "smtp.example.com",
		FromAddress: "system@example.com",
	}, zap.NewNop())
}

func TestBuildReplyThreadsOriginalMessageID(t *testing.T) {
	meeting := message.NewMeeting(&stubMessage{
		id:      "<abc123@example.org>",
		subject: "Planning",
	}, zap.NewNop())

	buf, err := testSender().buildReply(meeting, false, "cannot import", []string{"org@example.org"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "In-Reply-To: <abc123@example.org>")
	assert.Contains(t, out, "References: <abc123@example.org>")
	assert.NotContains(t, out, "<<")
	assert.Contains(t, out, "Subject: Re: Planning")
	assert.Contains(t, out, "cannot import")
}

func TestBuildReplySkipsThreadingForSyntheticIDs(t *testing.T) {
	meeting := message.NewMeeting(&stubMessage{
		id:      "seq-4",
		subject: "Planning",
	}, zap.NewNop())

	buf, err := testSender().buildReply(meeting, true, "", []string{"org@example.org"})
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "In-Reply-To")
	assert.Contains(t, out, "was accepted")
}

func TestRecipientsPreferOrganizer(t *testing.T) {
	meeting := message.NewMeeting(&stubMessage{
		id:   "<r@example.org>",
		from: []string{"someone@example.org"},
	}, zap.NewNop())

	got := testSender().recipients(context.Background(), meeting)
	assert.Equal(t, []string{"org@example.org"}, got)
}
