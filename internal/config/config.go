// Package config loads chronoreply settings from an optional YAML file and
// CHRONOREPLY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "CHRONOREPLY"

// Backend names.
const (
	BackendGmail = "gmail"
	BackendIMAP  = "imap"
)

// Token store names.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

// Dedup key modes.
const (
	DedupThread = "thread"
	DedupSender = "sender"
)

type Mailbox struct {
	Backend string `mapstructure:"backend"`
	// Address is the mailbox owner's own address. Empty means ask the provider.
	Address string `mapstructure:"address"`
}

type Gmail struct {
	CredentialsPath string `mapstructure:"credentials_path"`
	TokenPath       string `mapstructure:"token_path"`
	TokenStore      string `mapstructure:"token_store"`
	Query           string `mapstructure:"query"`
	PageSize        int    `mapstructure:"page_size"`
}

type IMAP struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Mailbox  string `mapstructure:"mailbox"`
}

type SMTP struct {
	Addr string `mapstructure:"addr"`
}

type Reply struct {
	Subject  string `mapstructure:"subject"`
	Body     string `mapstructure:"body"`
	Label    string `mapstructure:"label"`
	DedupKey string `mapstructure:"dedup_key"`
}

type Ledger struct {
	Path string `mapstructure:"path"`
}

type Schedule struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type Rate struct {
	RPS int `mapstructure:"rps"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Config is the full chronoreply configuration.
type Config struct {
	Mailbox  Mailbox  `mapstructure:"mailbox"`
	Gmail    Gmail    `mapstructure:"gmail"`
	IMAP     IMAP     `mapstructure:"imap"`
	SMTP     SMTP     `mapstructure:"smtp"`
	Reply    Reply    `mapstructure:"reply"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Schedule Schedule `mapstructure:"schedule"`
	Rate     Rate     `mapstructure:"rate"`
	Log      Log      `mapstructure:"log"`
}

// DefaultPath returns ~/.config/chronoreply/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "chronoreply", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mailbox.backend", BackendGmail)
	v.SetDefault("mailbox.address", "")
	v.SetDefault("gmail.credentials_path", "credentials.json")
	v.SetDefault("gmail.token_path", "token.json")
	v.SetDefault("gmail.token_store", TokenStoreFile)
	v.SetDefault("gmail.query", "in:inbox is:unread")
	v.SetDefault("gmail.page_size", 100)
	v.SetDefault("imap.addr", "")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("smtp.addr", "")
	v.SetDefault("reply.subject", "Re: Your Message")
	v.SetDefault("reply.body", "Thanks for contacting.")
	v.SetDefault("reply.label", "REPLIED")
	v.SetDefault("reply.dedup_key", DedupThread)
	v.SetDefault("ledger.path", "repliedThreads.json")
	v.SetDefault("schedule.min_delay", 75*time.Second)
	v.SetDefault("schedule.max_delay", 120*time.Second)
	v.SetDefault("rate.rps", 4)
	v.SetDefault("log.level", "info")
}

// Load reads path if it exists, applies environment overrides and validates.
// An empty path or a missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) && !isNotFound(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

// Validate checks enum values and bounds.
func (c Config) Validate() error {
	switch c.Mailbox.Backend {
	case BackendGmail:
		if c.Gmail.TokenStore != TokenStoreFile && c.Gmail.TokenStore != TokenStoreKeyring {
			return fmt.Errorf("%w: gmail.token_store %q", ErrInvalid, c.Gmail.TokenStore)
		}
		if c.Gmail.PageSize <= 0 || c.Gmail.PageSize > 500 {
			return fmt.Errorf("%w: gmail.page_size must be in 1..500, got %d", ErrInvalid, c.Gmail.PageSize)
		}
	case BackendIMAP:
		if c.IMAP.Addr == "" || c.IMAP.Username == "" || c.SMTP.Addr == "" {
			return fmt.Errorf("%w: imap backend needs imap.addr, imap.username and smtp.addr", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: mailbox.backend %q", ErrInvalid, c.Mailbox.Backend)
	}
	if c.Reply.DedupKey != DedupThread && c.Reply.DedupKey != DedupSender {
		return fmt.Errorf("%w: reply.dedup_key %q", ErrInvalid, c.Reply.DedupKey)
	}
	if strings.TrimSpace(c.Reply.Label) == "" {
		return fmt.Errorf("%w: reply.label must not be empty", ErrInvalid)
	}
	if strings.TrimSpace(c.Reply.Subject) == "" {
		return fmt.Errorf("%w: reply.subject must not be empty", ErrInvalid)
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("%w: ledger.path must not be empty", ErrInvalid)
	}
	if c.Schedule.MinDelay < 0 || c.Schedule.MaxDelay < c.Schedule.MinDelay {
		return fmt.Errorf("%w: schedule delays %s..%s", ErrInvalid, c.Schedule.MinDelay, c.Schedule.MaxDelay)
	}
	if c.Rate.RPS < 0 {
		return fmt.Errorf("%w: rate.rps must not be negative", ErrInvalid)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return lvl, nil
}
