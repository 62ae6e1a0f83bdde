package bootstrap

import (
	"fmt"

	"github.com/wolfman30/esus-pec-automation/internal/artifacts"
	appconfig "github.com/wolfman30/esus-pec-automation/internal/config"
	"github.com/wolfman30/esus-pec-automation/internal/messaging/telegramclient"
	"github.com/wolfman30/esus-pec-automation/internal/notify"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// BuildNotifier wires the completion notice: Telegram to the group chat and,
// when configured, an email copy through SendGrid or SES. ses may be nil
// unless EMAIL_PROVIDER=ses.
func BuildNotifier(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (*notify.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	dial := notify.TelegramDialer(telegramclient.Config{
		BaseURL: cfg.TelegramAPIBaseURL,
		Token:   cfg.TelegramBotToken,
		Logger:  logger.Logger,
	})
	opts := []notify.Option{notify.WithLocation(cfg.Location())}

	if len(cfg.NotifyEmailTo) > 0 {
		sender, err := notify.NewEmailSender(notify.EmailConfig{
			Provider:  cfg.EmailProvider,
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, ses, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: email sender: %w", err)
		}
		if sender != nil {
			opts = append(opts, notify.WithEmail(sender, cfg.NotifyEmailTo))
			logger.Info("email copy enabled", "provider", cfg.EmailProvider, "recipients", len(cfg.NotifyEmailTo))
		}
	}
	return notify.NewService(dial, cfg.TelegramGroupChatID, logger, opts...), nil
}

// BuildArtifactCollector returns nil when neither a directory nor a bucket is
// configured. s3Client is only used when a bucket is set.
func BuildArtifactCollector(cfg *appconfig.Config, s3Client artifacts.S3API, logger *logging.Logger) *artifacts.Collector {
	if cfg == nil || (cfg.ArtifactsDir == "" && cfg.ArtifactsBucket == "") {
		return nil
	}
	if cfg.ArtifactsBucket == "" {
		s3Client = nil
	}
	return artifacts.NewCollector(cfg.ArtifactsDir, s3Client, cfg.ArtifactsBucket, logger)
}

// BuildIntervener prompts on the terminal when manual intervention is
// enabled and only logs otherwise.
func BuildIntervener(cfg *appconfig.Config, logger *logging.Logger) portal.Intervener {
	if cfg != nil && cfg.ManualIntervention {
		return portal.NewPromptIntervener(logger)
	}
	return &portal.LogIntervener{Logger: logger}
}
