// Package reply sends answers to meeting invitations over SMTP.
package reply

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/config"
	"github.com/mailbridge/mailbridge/internal/message"
)

// Sender composes and sends meeting replies. A fresh SMTP connection is
// made per send; replies are rare enough that pooling is not worth it.
type Sender struct {
	cfg config.SMTPConfig
	log *zap.Logger
}

// NewSender creates a sender for the given SMTP configuration.
func NewSender(cfg config.SMTPConfig, log *zap.Logger) *Sender {
	return &Sender{cfg: cfg, log: log}
}

// SendMeetingReply answers a meeting invitation. The reply goes to the
// organizer, or to all participants when no organizer is declared. note
// carries the acceptance or decline text shown to the recipient.
func (s *Sender) SendMeetingReply(ctx context.Context, meeting *message.Meeting, accepted bool, note string) error {
	recipients := s.recipients(ctx, meeting)
	if len(recipients) == 0 {
		return fmt.Errorf("replying to meeting %s: no recipients", meeting.ID())
	}

	msg, err := s.buildReply(meeting, accepted, note, recipients)
	if err != nil {
		return fmt.Errorf("building reply for meeting %s: %w", meeting.ID(), err)
	}

	client, err := s.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendMail(s.cfg.FromAddress, recipients, msg); err != nil {
		return fmt.Errorf("sending reply for meeting %s: %w", meeting.ID(), err)
	}

	s.log.Info("sent meeting reply",
		zap.String("mail", meeting.ID()),
		zap.Bool("accepted", accepted),
		zap.Strings("to", recipients))
	return nil
}

func (s *Sender) recipients(ctx context.Context, meeting *message.Meeting) []string {
	if organizer := meeting.Organizer(ctx); organizer != "" {
		return []string{organizer}
	}
	if participants := meeting.Participants(ctx); len(participants) > 0 {
		return participants
	}
	// Last resort: answer the envelope sender.
	return meeting.From()
}

func (s *Sender) connect() (*smtp.Client, error) {
	addr := s.cfg.Addr()
	tlsCfg := &tls.Config{ServerName: s.cfg.Host}

	var client *smtp.Client
	var err error
	switch s.cfg.Security {
	case "starttls":
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	case "plain":
		client, err = smtp.Dial(addr)
	default:
		client, err = smtp.DialTLS(addr, tlsCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP server %s: %w", addr, err)
	}

	if s.cfg.Password != "" {
		auth := sasl.NewPlainClient("", s.cfg.User, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	return client, nil
}

func (s *Sender) buildReply(meeting *message.Meeting, accepted bool, note string, recipients []string) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(replySubject(meeting.Subject()))
	header.SetAddressList("From", []*mail.Address{{Address: s.cfg.FromAddress}})

	toAddrs := make([]*mail.Address, len(recipients))
	for i, addr := range recipients {
		toAddrs[i] = &mail.Address{Address: addr}
	}
	header.SetAddressList("To", toAddrs)

	// SetMsgIDList adds the angle brackets itself; the fetched envelope
	// ID carries them already.
	if id := meeting.ID(); strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		bare := strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
		header.SetMsgIDList("In-Reply-To", []string{bare})
		header.SetMsgIDList("References", []string{bare})
	}
	header.Set("Message-ID", generateMessageID(s.cfg.FromAddress))

	iw, err := mail.CreateInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	var h mail.InlineHeader
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return nil, err
	}

	verdict := "accepted"
	if !accepted {
		verdict = "declined"
	}
	body := fmt.Sprintf("Your meeting request %q was %s.", meeting.Subject(), verdict)
	if note != "" {
		body += "\n\n" + note
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// generateMessageID produces an RFC 5322 compliant Message-ID using the
// domain of the sender address.
func generateMessageID(fromAddr string) string {
	domain := "localhost"
	if idx := strings.Index(fromAddr, "@"); idx >= 0 {
		domain = fromAddr[idx+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)

	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), hex.EncodeToString(b), domain)
}
