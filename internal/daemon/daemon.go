// Package daemon runs the polling cycles that drain the inbox and
// dispatch messages to their handlers.
package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/mailbox"
	"github.com/mailbridge/mailbridge/internal/message"
	"github.com/mailbridge/mailbridge/internal/store"
)

// Strategy decides what happens to mail no handler accepted.
type Strategy string

const (
	// StrategyDelete flags unknown mail deleted.
	StrategyDelete Strategy = "delete"
	// StrategyMove moves unknown mail to a dedicated folder, creating
	// it on demand.
	StrategyMove Strategy = "move"
)

// connectErrorLogInterval throttles repeated connection-failure logs.
const connectErrorLogInterval = time.Hour

// Config holds the daemon's processing settings.
type Config struct {
	Activated           bool
	ProcessAllMails     bool
	UnknownMailStrategy Strategy
	UnknownMailFolder   string

	// FromAddress identifies mail the system sent to itself.
	FromAddress string

	// RetryCount bounds folder-acquisition attempts per cycle.
	RetryCount int

	// QueueWarnLimit and QueueAbortLimit guard against runaway
	// processing loops within one cycle.
	QueueWarnLimit  int
	QueueAbortLimit int

	// MeetingFailureText accompanies decline replies.
	MeetingFailureText string
}

// Handlers are the callbacks mail is dispatched to. Reports take
// priority over self-sent mail, which takes priority over external
// mail. The meeting handler reports acceptance.
type Handlers struct {
	SelfSent func(ctx context.Context, mail *message.Mail) error
	Report   func(ctx context.Context, mail *message.Mail) error
	External func(ctx context.Context, mail *message.Mail, owner *store.FolderOwner) error
	Meeting  func(ctx context.Context, meeting *message.Meeting) (bool, error)
}

// ReplySender answers meeting invitations.
type ReplySender interface {
	SendMeetingReply(ctx context.Context, meeting *message.Meeting, accepted bool, note string) error
}

// Result counts the outcomes of one polling cycle.
type Result struct {
	MailsOK        int
	MailsFailed    int
	MeetingsOK     int
	MeetingsFailed int
}

// Daemon drains the inbox in cycles. Cycles never run concurrently;
// the scheduler may tick while a slow cycle is still running and will
// simply block on the mutex.
type Daemon struct {
	mu       sync.Mutex
	cfg      Config
	pre      []Preprocessor
	manager  *mailbox.Manager
	journal  store.Journal
	handlers Handlers
	replies  ReplySender
	log      *zap.Logger

	// errorTime is the unix time of the last reported connection
	// failure, 0 when the store was reachable.
	errorTime atomic.Int64
}

// New creates a polling daemon.
func New(
	cfg Config,
	manager *mailbox.Manager,
	journal store.Journal,
	handlers Handlers,
	replies ReplySender,
	pre []Preprocessor,
	log *zap.Logger,
) *Daemon {
	return &Daemon{
		cfg:      cfg,
		pre:      pre,
		manager:  manager,
		journal:  journal,
		handlers: handlers,
		replies:  replies,
		log:      log,
	}
}

// Reload swaps the processing settings and preprocessor chain. A cycle
// in progress finishes with the old settings.
func (d *Daemon) Reload(cfg Config, pre []Preprocessor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.pre = pre
	d.log.Info("daemon configuration reloaded",
		zap.Bool("activated", cfg.Activated),
		zap.Int("preprocessors", len(pre)))
}

// SetActivated switches message processing on or off without touching
// the rest of the configuration.
func (d *Daemon) SetActivated(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Activated = on
	d.log.Info("daemon activation changed", zap.Bool("activated", on))
}

// RunCycle performs one polling cycle: acquire the inbox, list new
// messages, dispatch each one, then expunge and commit the journal.
func (d *Daemon) RunCycle(ctx context.Context) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cfg.Activated {
		d.log.Debug("daemon deactivated, skipping cycle")
		return Result{}
	}

	folder := d.acquireInbox(ctx)
	if folder == nil {
		return Result{}
	}
	d.errorTime.Store(0)

	msgs, err := folder.Messages(ctx)
	if err != nil {
		d.log.Error("listing inbox messages", zap.Error(err))
		return Result{}
	}

	var pending []mailbox.Message
	for _, msg := range msgs {
		if msg.Removed() {
			continue
		}
		if msg.HasFlag(imap.FlagDeleted) {
			continue
		}
		if !d.cfg.ProcessAllMails && msg.HasFlag(imap.FlagSeen) {
			continue
		}
		pending = append(pending, msg)
	}

	d.log.Info("polled inbox",
		zap.Int("found", len(msgs)),
		zap.Int("new", len(pending)))
	if len(pending) == 0 {
		return Result{}
	}

	tx, err := d.journal.Begin(ctx)
	if err != nil {
		d.log.Error("beginning journal transaction", zap.Error(err))
		return Result{}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	started := time.Now()
	var res Result

	processed := 0
	for _, raw := range pending {
		if processed >= d.cfg.QueueAbortLimit && d.cfg.QueueAbortLimit > 0 {
			d.log.Error("aborting cycle, message limit reached",
				zap.Int("limit", d.cfg.QueueAbortLimit))
			break
		}
		if processed == d.cfg.QueueWarnLimit && d.cfg.QueueWarnLimit > 0 {
			d.log.Warn("unusually many messages in one cycle",
				zap.Int("count", processed))
		}
		processed++

		seen, err := d.journal.Seen(ctx, raw.ID())
		if err != nil {
			d.log.Warn("checking journal", zap.String("mail", raw.ID()), zap.Error(err))
		} else if seen {
			d.log.Debug("skipping already processed mail", zap.String("mail", raw.ID()))
			continue
		}

		category := message.Classify(raw)
		var ok, disposed bool
		if category == message.CategoryMeeting {
			ok, disposed = d.processMeeting(ctx, raw)
			if ok {
				res.MeetingsOK++
			} else {
				res.MeetingsFailed++
			}
		} else {
			ok, disposed = d.processMail(ctx, folder, raw, category)
			if ok {
				res.MailsOK++
			} else {
				res.MailsFailed++
			}
		}

		if disposed {
			if err := tx.MarkProcessed(ctx, raw.ID(), category.String()); err != nil {
				d.log.Warn("journaling mail", zap.String("mail", raw.ID()), zap.Error(err))
			}
		}
	}

	// Expunge before committing: a crash in between re-delivers nothing,
	// it only leaves an unrecorded cycle.
	if err := folder.Expunge(ctx); err != nil {
		d.log.Warn("expunging inbox", zap.Error(err))
	}

	if err := tx.RecordCycle(ctx, store.CycleStats{
		StartedAt:      started,
		MailsOK:        res.MailsOK,
		MailsFailed:    res.MailsFailed,
		MeetingsOK:     res.MeetingsOK,
		MeetingsFailed: res.MeetingsFailed,
	}); err != nil {
		d.log.Warn("recording cycle stats", zap.Error(err))
	}

	if err := tx.Commit(); err != nil {
		d.log.Error("committing journal", zap.Error(err))
	} else {
		committed = true
	}

	d.log.Info("cycle finished",
		zap.Int("mails_ok", res.MailsOK),
		zap.Int("mails_failed", res.MailsFailed),
		zap.Int("meetings_ok", res.MeetingsOK),
		zap.Int("meetings_failed", res.MeetingsFailed),
		zap.Duration("took", time.Since(started)))
	return res
}

// acquireInbox opens the inbox, retrying with a fresh connection up to
// the configured count. Failures are logged at most once per hour.
func (d *Daemon) acquireInbox(ctx context.Context) mailbox.Folder {
	retries := d.cfg.RetryCount
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			d.manager.Disconnect()
		}

		folder, err := d.manager.Inbox(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if folder.IsOpen() && folder.Store().Connected() {
			return folder
		}
		lastErr = errors.New("inbox handle is not open")
	}

	d.reportConnectFailure(lastErr)
	return nil
}

func (d *Daemon) reportConnectFailure(err error) {
	now := time.Now().Unix()
	last := d.errorTime.Load()
	if last != 0 && now-last < int64(connectErrorLogInterval/time.Second) {
		d.log.Debug("message store still unreachable", zap.Error(err))
		return
	}
	d.errorTime.Store(now)
	d.log.Warn("cannot reach message store",
		zap.Int("attempts", d.cfg.RetryCount), zap.Error(err))
}

// processMeeting hands an invitation to the meeting handler, answers
// the organizer, and flags the invitation deleted. A transport failure
// in the handler leaves the message for the next cycle.
func (d *Daemon) processMeeting(ctx context.Context, raw mailbox.Message) (ok, disposed bool) {
	meeting := message.NewMeeting(raw, d.log)

	accepted := false
	if d.handlers.Meeting != nil {
		var err error
		accepted, err = d.handlers.Meeting(ctx, meeting)
		if err != nil {
			if mailbox.IsProtocolError(err) {
				d.log.Warn("transport failure handling meeting, leaving it for retry",
					zap.String("mail", raw.ID()), zap.Error(err))
				return false, false
			}
			d.log.Warn("meeting handler failed",
				zap.String("mail", raw.ID()), zap.Error(err))
			accepted = false
		}
	}

	note := ""
	if !accepted {
		note = d.cfg.MeetingFailureText
	}
	if d.replies != nil {
		if err := d.replies.SendMeetingReply(ctx, meeting, accepted, note); err != nil {
			d.log.Warn("answering meeting",
				zap.String("mail", raw.ID()), zap.Error(err))
		}
	}

	if err := raw.SetFlag(ctx, imap.FlagDeleted, true); err != nil {
		d.log.Warn("flagging meeting deleted",
			zap.String("mail", raw.ID()), zap.Error(err))
		return accepted, false
	}
	return accepted, true
}

// processMail dispatches non-meeting mail. Reports go to the report
// handler, mail from the system's own address to the self-sent handler,
// everything else runs through the preprocessor chain and the external
// handler.
func (d *Daemon) processMail(ctx context.Context, folder mailbox.Folder, raw mailbox.Message, category message.Category) (ok, disposed bool) {
	mail := message.NewMail(raw)

	var err error
	switch {
	case category == message.CategoryReport:
		if d.handlers.Report != nil {
			err = d.handlers.Report(ctx, mail)
		}

	case mail.IsFrom(d.cfg.FromAddress):
		if d.handlers.SelfSent != nil {
			err = d.handlers.SelfSent(ctx, mail)
		}

	default:
		owner, oerr := d.journal.ResolveOwner(ctx, senderOf(mail))
		if oerr != nil {
			d.log.Warn("resolving folder owner",
				zap.String("mail", raw.ID()), zap.Error(oerr))
		}

		for _, p := range d.pre {
			if !p.Preprocess(ctx, mail, owner) {
				d.log.Info("mail vetoed by preprocessor",
					zap.String("mail", raw.ID()),
					zap.String("preprocessor", p.Name()))
				return false, d.handleUnknown(ctx, folder, raw)
			}
		}

		if d.handlers.External != nil {
			err = d.handlers.External(ctx, mail, owner)
		}
	}

	if err == nil {
		if derr := raw.SetFlag(ctx, imap.FlagDeleted, true); derr != nil {
			d.log.Warn("flagging mail deleted",
				zap.String("mail", raw.ID()), zap.Error(derr))
			return true, false
		}
		return true, true
	}

	if mailbox.IsProtocolError(err) {
		d.log.Warn("transport failure handling mail, leaving it for retry",
			zap.String("mail", raw.ID()), zap.Error(err))
		return false, false
	}

	d.log.Warn("mail handler failed",
		zap.String("mail", raw.ID()), zap.Error(err))
	return false, d.handleUnknown(ctx, folder, raw)
}

// handleUnknown applies the unknown-mail strategy. It reports whether
// the message was disposed of.
func (d *Daemon) handleUnknown(ctx context.Context, folder mailbox.Folder, raw mailbox.Message) bool {
	switch d.cfg.UnknownMailStrategy {
	case StrategyDelete:
		if err := raw.SetFlag(ctx, imap.FlagDeleted, true); err != nil {
			d.log.Warn("deleting unknown mail",
				zap.String("mail", raw.ID()), zap.Error(err))
			return false
		}
		return true

	case StrategyMove:
		return d.moveToUnknown(ctx, folder, raw)

	default:
		d.log.Warn("unknown mail kept, no strategy configured",
			zap.String("mail", raw.ID()))
		return false
	}
}

// moveToUnknown moves a message to the unknown-mail folder, creating
// the folder on demand. A failed move clears the deleted and seen flags
// so the next cycle sees the message again.
func (d *Daemon) moveToUnknown(ctx context.Context, folder mailbox.Folder, raw mailbox.Message) bool {
	dest := d.cfg.UnknownMailFolder
	if dest == "" {
		d.log.Warn("no unknown-mail folder configured",
			zap.String("mail", raw.ID()))
		return false
	}

	target, err := d.manager.Folder(ctx, dest)
	if errors.Is(err, mailbox.ErrFolderNotFound) {
		conn, cerr := d.manager.Connect(ctx)
		if cerr == nil {
			cerr = conn.CreateFolder(ctx, dest)
		}
		if cerr != nil {
			d.log.Warn("creating unknown-mail folder",
				zap.String("folder", dest), zap.Error(cerr))
			return false
		}
		d.log.Info("created unknown-mail folder", zap.String("folder", dest))

		// Remember where this sender's mail ends up.
		if from := raw.From(); len(from) > 0 {
			if berr := d.journal.BindOwner(ctx, store.FolderOwner{
				Address: strings.ToLower(from[0]),
				Folder:  dest,
			}); berr != nil {
				d.log.Warn("binding sender to folder",
					zap.String("folder", dest), zap.Error(berr))
			}
		}

		target, err = d.manager.Folder(ctx, dest)
	}
	if err != nil {
		d.log.Warn("resolving unknown-mail folder",
			zap.String("folder", dest), zap.Error(err))
		return false
	}

	if err := folder.Move(ctx, raw, target.Name()); err != nil {
		d.log.Warn("moving unknown mail",
			zap.String("mail", raw.ID()),
			zap.String("folder", dest), zap.Error(err))
		_ = raw.SetFlag(ctx, imap.FlagDeleted, false)
		_ = raw.SetFlag(ctx, imap.FlagSeen, false)
		return false
	}

	_ = target.Close(ctx)
	d.log.Info("moved unknown mail",
		zap.String("mail", raw.ID()), zap.String("folder", dest))
	return true
}

func senderOf(mail *message.Mail) string {
	from := mail.From()
	if len(from) == 0 {
		return ""
	}
	return strings.ToLower(from[0])
}
