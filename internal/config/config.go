package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ServerConfig holds the connection settings for the remote message store.
type ServerConfig struct {
	// Host is the mail server's host name.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server port. -1 selects the protocol default.
	Port int `mapstructure:"port" yaml:"port"`

	// User is the login name for the mail account.
	User string `mapstructure:"user" yaml:"user"`

	// Password is the login password. If empty, the system keyring
	// is consulted under the key "imap:<user>@<host>".
	Password string `mapstructure:"password" yaml:"password"`

	// Security selects the transport: "tls", "starttls" or "plain".
	Security string `mapstructure:"security" yaml:"security"`

	// Options holds additional protocol options passed to the
	// transport when opening a connection.
	Options map[string]string `mapstructure:"options" yaml:"options"`
}

// Addr returns the dial address for the configured server.
func (c ServerConfig) Addr() string {
	port := c.Port
	if port <= 0 {
		if c.Security == "tls" {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// SMTPConfig holds the outgoing server settings used for meeting replies.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Security string `mapstructure:"security" yaml:"security"`

	// FromAddress is the address the system sends mail from. Incoming
	// mail whose sender equals this address is routed to the
	// self-sent handler.
	FromAddress string `mapstructure:"from_address" yaml:"from_address"`
}

// Addr returns the dial address for the outgoing server.
func (c SMTPConfig) Addr() string {
	port := c.Port
	if port <= 0 {
		switch c.Security {
		case "starttls":
			port = 587
		case "plain":
			port = 25
		default:
			port = 465
		}
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// DaemonConfig holds the polling daemon settings.
type DaemonConfig struct {
	// Activated controls whether polling cycles do any work.
	Activated bool `mapstructure:"activated" yaml:"activated"`

	// ProcessAllMails processes every message in the folder instead of
	// only unseen ones.
	ProcessAllMails bool `mapstructure:"process_all_mails" yaml:"process_all_mails"`

	// UnknownMailStrategy is "delete" or "move".
	UnknownMailStrategy string `mapstructure:"unknown_mail_strategy" yaml:"unknown_mail_strategy"`

	// UnknownMailFolder is the target folder for the "move" strategy.
	UnknownMailFolder string `mapstructure:"unknown_mail_folder" yaml:"unknown_mail_folder"`

	// Preprocessors is the ordered list of registered preprocessor names
	// to run over external mail.
	Preprocessors []string `mapstructure:"preprocessors" yaml:"preprocessors"`

	// PollIntervalSec is how often (in seconds) a polling cycle runs.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// RetryCount bounds the folder-acquisition retries per cycle.
	RetryCount int `mapstructure:"retry_count" yaml:"retry_count"`

	// QueueWarnLimit and QueueAbortLimit guard against runaway
	// processing loops within one cycle.
	QueueWarnLimit  int `mapstructure:"queue_warn_limit" yaml:"queue_warn_limit"`
	QueueAbortLimit int `mapstructure:"queue_abort_limit" yaml:"queue_abort_limit"`

	// MeetingFailureText is sent with a decline reply when meeting
	// processing does not succeed.
	MeetingFailureText string `mapstructure:"meeting_failure_text" yaml:"meeting_failure_text"`
}

// StoreConfig holds the local journal database settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	File        string `mapstructure:"file" yaml:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Config is the top-level application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	SMTP   SMTPConfig   `mapstructure:"smtp" yaml:"smtp"`
	Daemon DaemonConfig `mapstructure:"daemon" yaml:"daemon"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailbridge/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailbridge", "config.yaml")
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: -1, Security: "tls"},
		Daemon: DaemonConfig{
			Activated:           true,
			ProcessAllMails:     true,
			UnknownMailStrategy: "move",
			UnknownMailFolder:   "unknown",
			PollIntervalSec:     120,
			RetryCount:          3,
			QueueWarnLimit:      1014,
			QueueAbortLimit:     1024,
		},
		Store: StoreConfig{Path: filepath.Join(filepath.Dir(DefaultConfigPath()), "journal.db")},
		Log:   LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Load reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.port", -1)
	v.SetDefault("server.security", "tls")
	v.SetDefault("daemon.activated", true)
	v.SetDefault("daemon.process_all_mails", true)
	v.SetDefault("daemon.unknown_mail_strategy", "move")
	v.SetDefault("daemon.unknown_mail_folder", "unknown")
	v.SetDefault("daemon.poll_interval_sec", 120)
	v.SetDefault("daemon.retry_count", 3)
	v.SetDefault("daemon.queue_warn_limit", 1014)
	v.SetDefault("daemon.queue_abort_limit", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the given configuration to a YAML file at path, creating
// parent directories if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("smtp", cfg.SMTP)
	v.Set("daemon", cfg.Daemon)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
