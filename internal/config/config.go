package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingConfiguration is matched by every validation failure.
var ErrMissingConfiguration = errors.New("missing configuration")

// MissingError lists every required key that was absent.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "config: required environment variables not set: " + strings.Join(e.Keys, ", ")
}

func (e *MissingError) Is(target error) bool {
	return target == ErrMissingConfiguration
}

// Config holds application configuration
type Config struct {
	// Portal
	WebsiteURL string
	Username   string
	Password   string
	Unit       string
	Clinician  string
	Patient    string

	// Telegram
	TelegramBotToken    string
	TelegramBotChatID   string
	TelegramGroupChatID string
	TelegramAPIBaseURL  string
	TelegramPollTimeout time.Duration
	NotifyTimezone      string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Browser
	BrowserHeadless     bool
	BrowserExecPath     string
	BrowserRemoteURL    string
	BrowserWindowWidth  int
	BrowserWindowHeight int
	FinalSettle         time.Duration
	ManualIntervention  bool

	// Failure artifacts
	ArtifactsDir        string
	ArtifactsBucket     string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Email copy of the completion notice
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	NotifyEmailTo     []string

	// Notifier bot
	RedisAddr             string
	RedisPassword         string
	RedisTLS              bool
	BotHTTPAddr           string
	MetricsPushgatewayURL string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		WebsiteURL: getEnv("WEBSITE_URL", ""),
		Username:   getEnv("USERNAME", ""),
		Password:   getEnv("PASSWORD", ""),
		Unit:       getEnv("UNIDADE", ""),
		Clinician:  getEnv("ENFERMEIRO", ""),
		Patient:    getEnv("PACIENTE", ""),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotChatID:   getEnv("TELEGRAM_BOT_CHAT_ID", ""),
		TelegramGroupChatID: getEnv("TELEGRAM_GROUP_CHAT_ID", ""),
		TelegramAPIBaseURL:  getEnv("TELEGRAM_API_BASE_URL", ""),
		TelegramPollTimeout: getEnvAsDuration("BOT_POLL_TIMEOUT", 30*time.Second),
		NotifyTimezone:      getEnv("NOTIFY_TIMEZONE", "Local"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogFile:   getEnv("LOG_FILE", "logs/app.log"),

		BrowserHeadless:     getEnvAsBool("BROWSER_HEADLESS", false),
		BrowserExecPath:     getEnv("BROWSER_EXEC_PATH", ""),
		BrowserRemoteURL:    getEnv("BROWSER_REMOTE_URL", ""),
		BrowserWindowWidth:  getEnvAsInt("BROWSER_WINDOW_WIDTH", 1920),
		BrowserWindowHeight: getEnvAsInt("BROWSER_WINDOW_HEIGHT", 1080),
		FinalSettle:         getEnvAsDuration("FINAL_SETTLE", 5*time.Second),
		ManualIntervention:  getEnvAsBool("MANUAL_INTERVENTION", true),

		ArtifactsDir:        getEnv("ARTIFACTS_DIR", "artifacts"),
		ArtifactsBucket:     getEnv("ARTIFACTS_BUCKET", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:     getEnv("EMAIL_PROVIDER", "sendgrid"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Automação PEC"),
		NotifyEmailTo:     getEnvAsList("NOTIFY_EMAIL_TO"),

		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisTLS:              getEnvAsBool("REDIS_TLS", false),
		BotHTTPAddr:           getEnv("BOT_HTTP_ADDR", ":9090"),
		MetricsPushgatewayURL: getEnv("METRICS_PUSHGATEWAY_URL", ""),
	}
}

// Validate checks that every setting the automation run needs is present.
// All absent keys are reported, in declaration order.
func (c *Config) Validate() error {
	return missing([]requirement{
		{"WEBSITE_URL", c.WebsiteURL},
		{"USERNAME", c.Username},
		{"PASSWORD", c.Password},
		{"UNIDADE", c.Unit},
		{"ENFERMEIRO", c.Clinician},
		{"PACIENTE", c.Patient},
		{"TELEGRAM_BOT_TOKEN", c.TelegramBotToken},
		{"TELEGRAM_BOT_CHAT_ID", c.TelegramBotChatID},
		{"TELEGRAM_GROUP_CHAT_ID", c.TelegramGroupChatID},
	})
}

// ValidateBot checks only the messaging credentials the notifier bot shares
// with the automation run.
func (c *Config) ValidateBot() error {
	return missing([]requirement{
		{"TELEGRAM_BOT_TOKEN", c.TelegramBotToken},
		{"TELEGRAM_GROUP_CHAT_ID", c.TelegramGroupChatID},
	})
}

// Location resolves NotifyTimezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	name := strings.TrimSpace(c.NotifyTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

type requirement struct {
	key   string
	value string
}

func missing(reqs []requirement) error {
	var keys []string
	for _, r := range reqs {
		if strings.TrimSpace(r.value) == "" {
			keys = append(keys, r.key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &MissingError{Keys: keys}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
