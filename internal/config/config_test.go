package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com", cfg.IMAP.Host)
	assert.Equal(t, "993", cfg.IMAP.Port)
	assert.Equal(t, "INBOX", cfg.IMAP.Folder)
	assert.True(t, cfg.IMAP.TLS)
	assert.Equal(t, 50, cfg.Limit)
	assert.True(t, cfg.MarkSeen)
	assert.Equal(t, "sandbox", cfg.PayPal.Env)
	assert.True(t, filepath.IsAbs(cfg.StatePath),
		"relative state path resolves against the working directory")
}

func TestEnvironmentBeatsDefault(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.org")
	t.Setenv("IMAP_LIMIT", "10")
	t.Setenv("IMAP_MARK_SEEN", "false")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "mail.example.org", cfg.IMAP.Host)
	assert.Equal(t, 10, cfg.Limit)
	assert.False(t, cfg.MarkSeen)
}

func TestOverrideBeatsEnvironment(t *testing.T) {
	t.Setenv("IMAP_LIMIT", "10")
	t.Setenv("IMAP_FOLDER", "Paypal")

	limit := 3
	folder := "Donations"
	cfg, err := Load(Overrides{Limit: &limit, Folder: &folder})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Limit)
	assert.Equal(t, "Donations", cfg.IMAP.Folder)
}

func TestLimitFloorsAtOne(t *testing.T) {
	limit := 0
	cfg, err := Load(Overrides{Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Limit)
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	t.Setenv("IMAP_USER", "donations@example.org")
	t.Setenv("IMAP_PASSWORD", "secret")
	cfg, err = Load(Overrides{})
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
