// Package config resolves ingestion settings with a fixed precedence:
// explicit override > environment variable > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// IMAPSettings are the mailbox connection settings.
type IMAPSettings struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`
	TLS      bool   `mapstructure:"tls"`
}

// PayPalSettings drive the outbound order-verification client.
type PayPalSettings struct {
	ClientID string `mapstructure:"client_id"`
	Secret   string `mapstructure:"secret"`
	Env      string `mapstructure:"env"`
}

// Config is the resolved configuration for one ingestion run.
type Config struct {
	IMAP     IMAPSettings   `mapstructure:"imap"`
	PayPal   PayPalSettings `mapstructure:"paypal"`
	Limit    int            `mapstructure:"limit"`
	MarkSeen bool           `mapstructure:"mark_seen"`
	// StatePath is the idempotency state file; relative paths are
	// resolved against the working directory.
	StatePath string `mapstructure:"state_path"`
	// LedgerDB is the SQLite database path for the donation ledger.
	LedgerDB string `mapstructure:"ledger_db"`
	LogLevel string `mapstructure:"log_level"`
}

// Overrides carries explicitly supplied values (typically CLI flags)
// that beat both environment variables and defaults. Nil fields mean
// "not supplied".
type Overrides struct {
	Limit     *int
	Folder    *string
	MarkSeen  *bool
	StatePath *string
	LedgerDB  *string
}

// envBindings maps viper keys to the environment variables the
// original deployment used.
var envBindings = map[string]string{
	"imap.host":        "IMAP_HOST",
	"imap.port":        "IMAP_PORT",
	"imap.user":        "IMAP_USER",
	"imap.password":    "IMAP_PASSWORD",
	"imap.folder":      "IMAP_FOLDER",
	"imap.tls":         "IMAP_TLS",
	"paypal.client_id": "PAYPAL_CLIENT_ID",
	"paypal.secret":    "PAYPAL_SECRET",
	"paypal.env":       "PAYPAL_ENV",
	"limit":            "IMAP_LIMIT",
	"mark_seen":        "IMAP_MARK_SEEN",
	"state_path":       "INGEST_STATE",
	"ledger_db":        "LEDGER_DB",
	"log_level":        "LOG_LEVEL",
}

// Load resolves the configuration. Precedence, highest first:
// non-nil Overrides fields, environment variables, built-in defaults.
func Load(o Overrides) (*Config, error) {
	v := viper.New()

	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.folder", "INBOX")
	v.SetDefault("imap.tls", true)
	// Credential keys default to empty so env-only values survive
	// the Unmarshal round trip.
	v.SetDefault("imap.user", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.secret", "")
	v.SetDefault("paypal.env", "sandbox")
	v.SetDefault("limit", 50)
	v.SetDefault("mark_seen", true)
	v.SetDefault("state_path", ".paypal_ingest_state.json")
	v.SetDefault("ledger_db", "donations.db")
	v.SetDefault("log_level", "info")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	if o.Limit != nil {
		cfg.Limit = *o.Limit
	}
	if o.Folder != nil {
		cfg.IMAP.Folder = *o.Folder
	}
	if o.MarkSeen != nil {
		cfg.MarkSeen = *o.MarkSeen
	}
	if o.StatePath != nil {
		cfg.StatePath = *o.StatePath
	}
	if o.LedgerDB != nil {
		cfg.LedgerDB = *o.LedgerDB
	}

	if !filepath.IsAbs(cfg.StatePath) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.StatePath = filepath.Join(cwd, cfg.StatePath)
	}

	if cfg.Limit < 1 {
		cfg.Limit = 1
	}

	return &cfg, nil
}

// Validate checks the settings a real (non-dry) mailbox run cannot do
// without.
func (c *Config) Validate() error {
	if c.IMAP.User == "" || c.IMAP.Password == "" {
		return fmt.Errorf("IMAP_USER and IMAP_PASSWORD must be set")
	}
	return nil
}
