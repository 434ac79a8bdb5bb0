package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Server.Port)
	assert.Equal(t, "tls", cfg.Server.Security)
	assert.True(t, cfg.Daemon.Activated)
	assert.True(t, cfg.Daemon.ProcessAllMails)
	assert.Equal(t, "move", cfg.Daemon.UnknownMailStrategy)
	assert.Equal(t, "unknown", cfg.Daemon.UnknownMailFolder)
	assert.Equal(t, 120, cfg.Daemon.PollIntervalSec)
	assert.Equal(t, 3, cfg.Daemon.RetryCount)
	assert.Equal(t, 1014, cfg.Daemon.QueueWarnLimit)
	assert.Equal(t, 1024, cfg.Daemon.QueueAbortLimit)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  host: imap.example.com
  user: bridge
  security: starttls
daemon:
  activated: false
  unknown_mail_strategy: delete
  poll_interval_sec: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.Server.Host)
	assert.Equal(t, "bridge", cfg.Server.User)
	assert.Equal(t, "starttls", cfg.Server.Security)
	assert.False(t, cfg.Daemon.Activated)
	assert.Equal(t, "delete", cfg.Daemon.UnknownMailStrategy)
	assert.Equal(t, 30, cfg.Daemon.PollIntervalSec)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Daemon.RetryCount)
	assert.Equal(t, "unknown", cfg.Daemon.UnknownMailFolder)
}

func TestServerAddrDefaultsPorts(t *testing.T) {
	tls := config.ServerConfig{Host: "mail.example.com", Port: -1, Security: "tls"}
	assert.Equal(t, "mail.example.com:993", tls.Addr())

	plain := config.ServerConfig{Host: "mail.example.com", Port: -1, Security: "plain"}
	assert.Equal(t, "mail.example.com:143", plain.Addr())

	explicit := config.ServerConfig{Host: "mail.example.com", Port: 10993, Security: "tls"}
	assert.Equal(t, "mail.example.com:10993", explicit.Addr())
}

func TestSMTPAddrDefaultsPorts(t *testing.T) {
	tls := config.SMTPConfig{Host: "smtp.example.com", Security: "tls"}
	assert.Equal(t, "smtp.example.com:465", tls.Addr())

	starttls := config.SMTPConfig{Host: "smtp.example.com", Security: "starttls"}
	assert.Equal(t, "smtp.example.com:587", starttls.Addr())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Server.Host = "imap.example.com"
	cfg.Daemon.MeetingFailureText = "cannot import this meeting"

	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", loaded.Server.Host)
	assert.Equal(t, "cannot import this meeting", loaded.Daemon.MeetingFailureText)
}
