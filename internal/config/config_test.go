package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredEnv = map[string]string{
	"WEBSITE_URL":            "https://portal.example",
	"USERNAME":               "enf.jane",
	"PASSWORD":               "secret",
	"UNIDADE":                "Centro X",
	"ENFERMEIRO":             "Jane Doe",
	"PACIENTE":               "John Smith",
	"TELEGRAM_BOT_TOKEN":     "123:abc",
	"TELEGRAM_BOT_CHAT_ID":   "42",
	"TELEGRAM_GROUP_CHAT_ID": "-1001",
}

var requiredOrder = []string{
	"WEBSITE_URL", "USERNAME", "PASSWORD", "UNIDADE", "ENFERMEIRO", "PACIENTE",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_CHAT_ID", "TELEGRAM_GROUP_CHAT_ID",
}

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FILE", "")
	t.Setenv("BROWSER_HEADLESS", "")
	t.Setenv("FINAL_SETTLE", "")
	t.Setenv("BOT_HTTP_ADDR", "")
	t.Setenv("NOTIFY_EMAIL_TO", "")

	cfg := Load()
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %s", cfg.LogLevel)
	}
	if cfg.LogFile != "logs/app.log" {
		t.Fatalf("expected default log file, got %s", cfg.LogFile)
	}
	if cfg.BrowserHeadless {
		t.Fatalf("expected headed browser by default")
	}
	if cfg.FinalSettle != 5*time.Second {
		t.Fatalf("expected default final settle, got %s", cfg.FinalSettle)
	}
	if cfg.BotHTTPAddr != ":9090" {
		t.Fatalf("expected default bot addr, got %s", cfg.BotHTTPAddr)
	}
	if !cfg.ManualIntervention {
		t.Fatalf("expected manual intervention enabled by default")
	}
	if len(cfg.NotifyEmailTo) != 0 {
		t.Fatalf("expected no email recipients, got %v", cfg.NotifyEmailTo)
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BROWSER_HEADLESS", "true")
	t.Setenv("BROWSER_WINDOW_WIDTH", "1280")
	t.Setenv("FINAL_SETTLE", "1500ms")
	t.Setenv("NOTIFY_EMAIL_TO", "ops@example.com, , lead@example.com")
	t.Setenv("BOT_POLL_TIMEOUT", "10s")

	cfg := Load()
	assert.Equal(t, "https://portal.example", cfg.WebsiteURL)
	assert.Equal(t, "Centro X", cfg.Unit)
	assert.Equal(t, "Jane Doe", cfg.Clinician)
	assert.Equal(t, "John Smith", cfg.Patient)
	assert.True(t, cfg.BrowserHeadless)
	assert.Equal(t, 1280, cfg.BrowserWindowWidth)
	assert.Equal(t, 1500*time.Millisecond, cfg.FinalSettle)
	assert.Equal(t, []string{"ops@example.com", "lead@example.com"}, cfg.NotifyEmailTo)
	assert.Equal(t, 10*time.Second, cfg.TelegramPollTimeout)
}

func TestValidateReportsEachMissingKey(t *testing.T) {
	for _, key := range requiredOrder {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			err := Load().Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingConfiguration))

			var missing *MissingError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, []string{key}, missing.Keys)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidateReportsAllMissingKeysInOrder(t *testing.T) {
	for _, key := range requiredOrder {
		t.Setenv(key, "")
	}
	t.Setenv("PACIENTE", "John Smith")

	err := Load().Validate()
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Len(t, missing.Keys, len(requiredOrder)-1)
	assert.Equal(t, "WEBSITE_URL", missing.Keys[0])
	assert.NotContains(t, missing.Keys, "PACIENTE")
}

func TestValidateTreatsWhitespaceAsMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("UNIDADE", "   ")
	assert.ErrorIs(t, Load().Validate(), ErrMissingConfiguration)
}

func TestValidateBot(t *testing.T) {
	for _, key := range requiredOrder {
		t.Setenv(key, "")
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	err := Load().ValidateBot()
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"TELEGRAM_GROUP_CHAT_ID"}, missing.Keys)

	t.Setenv("TELEGRAM_GROUP_CHAT_ID", "-1001")
	assert.NoError(t, Load().ValidateBot())
}

func TestLocation(t *testing.T) {
	cfg := &Config{NotifyTimezone: "America/Sao_Paulo"}
	assert.Equal(t, "America/Sao_Paulo", cfg.Location().String())

	cfg.NotifyTimezone = "Local"
	assert.Equal(t, time.Local, cfg.Location())

	cfg.NotifyTimezone = "Not/AZone"
	assert.Equal(t, time.Local, cfg.Location())
}
