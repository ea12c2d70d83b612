package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	OutputDir string

	LLMAPIKey       string
	LLMBaseURL      string
	LLMModel        string
	LLMMaxTokens    int
	LLMTimeoutMs    int
	LLMRateLimitRPS float64
	LLMMaxRetries   int

	ExtractionMinChars  int
	ExtractionMaxChars  int
	ExtractionTimeoutMs int
	DefaultZone         string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMailbox  string
	IMAPMarkSeen bool

	MailProvider       string
	MailSearchSubject  string
	MailFetchTimeoutMs int

	MailListenerIntervalSec int
	MailListenerCron        string

	ExpiryMonthYearDay string
	ExpiryCriticalDays int
	ExpiryWarningDays  int

	LogLevel       string
	LogFile        string
	LogDevelopment bool

	MetricsAddr string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		LLMAPIKey:       getEnv("LLM_API_KEY", getEnv("CLAUDE_API_KEY", "")),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "https://api.anthropic.com/v1"),
		LLMModel:        getEnv("LLM_MODEL", "claude-3-haiku-20240307"),
		LLMMaxTokens:    getEnvInt("LLM_MAX_TOKENS", 4000),
		LLMTimeoutMs:    getEnvInt("LLM_TIMEOUT_MS", 60000),
		LLMRateLimitRPS: getEnvFloat("LLM_RATE_LIMIT_RPS", 2),
		LLMMaxRetries:   getEnvInt("LLM_MAX_RETRIES", 4),

		ExtractionMinChars:  getEnvInt("EXTRACTION_MIN_CHARS", 50),
		ExtractionMaxChars:  getEnvInt("EXTRACTION_MAX_CHARS", 15000),
		ExtractionTimeoutMs: getEnvInt("EXTRACTION_TIMEOUT_MS", 120000),
		DefaultZone:         getEnv("DEFAULT_ZONE", "DEPOT"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", "imap.gmail.com"),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMailbox:  getEnv("IMAP_MAILBOX", "INBOX"),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailProvider:       getEnv("MAIL_PROVIDER", "imap"),
		MailSearchSubject:  getEnv("EMAIL_SEARCH_SUBJECT", "FACTURE TEST"),
		MailFetchTimeoutMs: getEnvInt("MAIL_FETCH_TIMEOUT_MS", 60000),

		MailListenerIntervalSec: getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 300),
		MailListenerCron:        getEnv("MAIL_LISTENER_CRON", ""),

		ExpiryMonthYearDay: getEnv("EXPIRY_MONTH_YEAR_DAY", "first"),
		ExpiryCriticalDays: getEnvInt("EXPIRY_CRITICAL_DAYS", 30),
		ExpiryWarningDays:  getEnvInt("EXPIRY_WARNING_DAYS", 90),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		LogDevelopment: getEnvBool("LOG_DEVELOPMENT", false),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func (c Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.ExtractionTimeoutMs) * time.Millisecond
}

func (c Config) MailFetchTimeout() time.Duration {
	return time.Duration(c.MailFetchTimeoutMs) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
