// Command mailbridge polls a mailbox and feeds its messages into the
// configured handlers. SIGHUP reloads the configuration, SIGINT and
// SIGTERM shut the daemon down after the running cycle finishes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/config"
	"github.com/mailbridge/mailbridge/internal/credential"
	"github.com/mailbridge/mailbridge/internal/daemon"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/mailbox"
	"github.com/mailbridge/mailbridge/internal/message"
	"github.com/mailbridge/mailbridge/internal/reply"
	"github.com/mailbridge/mailbridge/internal/store"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to the configuration file")
	setPassword := flag.Bool("set-password", false, "read the mail password from stdin, store it in the system keyring, and exit")
	deletePassword := flag.Bool("delete-password", false, "remove the mail password from the system keyring and exit")
	flag.Parse()

	var err error
	switch {
	case *setPassword:
		err = storePassword(*configPath)
	case *deletePassword:
		err = removePassword(*configPath)
	default:
		err = run(*configPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailbridge:", err)
		os.Exit(1)
	}
}

// storePassword saves the mail account password under the account's
// keyring key so the config file can stay free of secrets.
func storePassword(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("password for %s@%s: ", cfg.Server.User, cfg.Server.Host)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimSpace(line)
	if password == "" {
		return fmt.Errorf("empty password")
	}

	key := credential.MailPasswordKey(cfg.Server.User, cfg.Server.Host)
	if err := credential.Set(key, password); err != nil {
		return err
	}
	fmt.Println("password stored under", key)
	return nil
}

func removePassword(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	key := credential.MailPasswordKey(cfg.Server.User, cfg.Server.Host)
	if err := credential.Delete(key); err != nil {
		return err
	}
	fmt.Println("password removed for", key)
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	resolvePassword(cfg, log)

	journal, err := store.NewSQLiteJournal(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	manager := mailbox.NewManager(mailbox.NewIMAPDialer(cfg.Server, log), log)
	defer manager.Disconnect()

	replies := reply.NewSender(cfg.SMTP, log)

	d := daemon.New(
		daemonConfig(cfg),
		manager,
		journal,
		defaultHandlers(log),
		replies,
		daemon.Build(cfg.Daemon.Preprocessors, log),
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := daemon.NewScheduler(d,
		time.Duration(cfg.Daemon.PollIntervalSec)*time.Second, log)
	sched.Start(ctx)
	defer sched.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reload(configPath, d, log)
			continue
		}
		log.Info("shutting down", zap.String("signal", sig.String()))
		return nil
	}
	return nil
}

// resolvePassword falls back to the system keyring when the config
// carries no password.
func resolvePassword(cfg *config.Config, log *zap.Logger) {
	if cfg.Server.Password != "" {
		return
	}
	key := credential.MailPasswordKey(cfg.Server.User, cfg.Server.Host)
	password, err := credential.Get(key)
	if err != nil {
		log.Warn("no mail password in config or keyring",
			zap.String("key", key), zap.Error(err))
		return
	}
	cfg.Server.Password = password
}

func reload(configPath string, d *daemon.Daemon, log *zap.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("reloading configuration", zap.Error(err))
		return
	}
	d.Reload(daemonConfig(cfg), daemon.Build(cfg.Daemon.Preprocessors, log))
}

func daemonConfig(cfg *config.Config) daemon.Config {
	return daemon.Config{
		Activated:           cfg.Daemon.Activated,
		ProcessAllMails:     cfg.Daemon.ProcessAllMails,
		UnknownMailStrategy: daemon.Strategy(cfg.Daemon.UnknownMailStrategy),
		UnknownMailFolder:   cfg.Daemon.UnknownMailFolder,
		FromAddress:         cfg.SMTP.FromAddress,
		RetryCount:          cfg.Daemon.RetryCount,
		QueueWarnLimit:      cfg.Daemon.QueueWarnLimit,
		QueueAbortLimit:     cfg.Daemon.QueueAbortLimit,
		MeetingFailureText:  cfg.Daemon.MeetingFailureText,
	}
}

// defaultHandlers log each message's disposition. Deployments embed the
// daemon and supply their own handlers; the standalone binary only
// records what it would have dispatched.
func defaultHandlers(log *zap.Logger) daemon.Handlers {
	return daemon.Handlers{
		SelfSent: func(_ context.Context, mail *message.Mail) error {
			log.Info("discarding self-sent mail",
				zap.String("mail", mail.ID()),
				zap.String("subject", mail.Subject()))
			return nil
		},
		Report: func(_ context.Context, mail *message.Mail) error {
			log.Warn("delivery report received",
				zap.String("mail", mail.ID()),
				zap.String("subject", mail.Subject()))
			return nil
		},
		External: func(ctx context.Context, mail *message.Mail, owner *store.FolderOwner) error {
			body, err := mail.Body(ctx)
			if err != nil {
				return err
			}
			folder := ""
			if owner != nil {
				folder = owner.Folder
			}
			log.Info("external mail received",
				zap.String("mail", mail.ID()),
				zap.String("subject", mail.Subject()),
				zap.Strings("from", mail.From()),
				zap.String("owner_folder", folder),
				zap.Int("body_bytes", len(body)))
			return nil
		},
		Meeting: func(ctx context.Context, meeting *message.Meeting) (bool, error) {
			start, startOK := meeting.Start(ctx)
			end, endOK := meeting.End(ctx)
			if !startOK || !endOK {
				return false, nil
			}
			log.Info("meeting invitation received",
				zap.String("mail", meeting.ID()),
				zap.Time("start", start),
				zap.Time("end", end),
				zap.String("location", meeting.Location(ctx)),
				zap.Strings("participants", meeting.Participants(ctx)))
			return true, nil
		},
	}
}
