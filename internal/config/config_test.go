package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMAIL_SEARCH_SUBJECT", "")
	t.Setenv("IMAP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.MailSearchSubject)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.Equal(t, 15000, cfg.ExtractionMaxChars)
	assert.Equal(t, 50, cfg.ExtractionMinChars)
	assert.Equal(t, 30, cfg.ExpiryCriticalDays)
	assert.Equal(t, 90, cfg.ExpiryWarningDays)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.test")
	t.Setenv("IMAP_PORT", "143")
	t.Setenv("IMAP_SECURE", "off")
	t.Setenv("EMAIL_SEARCH_SUBJECT", "BON DE LIVRAISON")
	t.Setenv("LLM_RATE_LIMIT_RPS", "0.5")
	t.Setenv("EXTRACTION_TIMEOUT_MS", "1500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mail.example.test", cfg.IMAPHost)
	assert.Equal(t, 143, cfg.IMAPPort)
	assert.False(t, cfg.IMAPSecure)
	assert.Equal(t, "BON DE LIVRAISON", cfg.MailSearchSubject)
	assert.Equal(t, 0.5, cfg.LLMRateLimitRPS)
	assert.Equal(t, 1500*time.Millisecond, cfg.ExtractionTimeout())
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("IMAP_PORT", "not-a-port")
	t.Setenv("IMAP_MARK_SEEN", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 993, cfg.IMAPPort)
	assert.False(t, cfg.IMAPMarkSeen)
}

func TestRequire(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Require("IMAP_USER", "  "))
	assert.NoError(t, cfg.Require("IMAP_USER", "pharma@example.test"))
}
