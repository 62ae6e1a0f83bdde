package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"

	"github.com/wolfman30/esus-pec-automation/cmd/mainconfig"
	"github.com/wolfman30/esus-pec-automation/internal/app/bootstrap"
	"github.com/wolfman30/esus-pec-automation/internal/artifacts"
	"github.com/wolfman30/esus-pec-automation/internal/automation"
	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/config"
	"github.com/wolfman30/esus-pec-automation/internal/notify"
	"github.com/wolfman30/esus-pec-automation/internal/observability/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := bootstrap.BuildLogger(cfg, "automation")
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if cfg.ArtifactsBucket != "" || cfg.EmailProvider == "ses" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load aws config", "error", err)
			return 1
		}
		awsCfg = &loaded
	}

	var ses notify.SESAPI
	if awsCfg != nil && cfg.EmailProvider == "ses" {
		ses = sesv2.NewFromConfig(*awsCfg)
	}
	notifier, err := bootstrap.BuildNotifier(cfg, ses, logger)
	if err != nil {
		logger.Error("failed to configure notifications", "error", err)
		return 1
	}

	opts := []automation.Option{
		automation.WithLogger(logger),
		automation.WithNotifier(notifier),
		automation.WithIntervener(bootstrap.BuildIntervener(cfg, logger)),
	}
	var s3Client artifacts.S3API
	if awsCfg != nil && cfg.ArtifactsBucket != "" {
		s3Client = mainconfig.NewS3Client(*awsCfg, cfg)
	}
	if collector := bootstrap.BuildArtifactCollector(cfg, s3Client, logger); collector != nil {
		opts = append(opts, automation.WithArtifacts(collector))
	}
	runMetrics := metrics.NewAutomationMetrics(nil)
	opts = append(opts, automation.WithMetrics(runMetrics))

	page, err := browser.Launch(ctx, browser.ChromeOptions{
		Headless:     cfg.BrowserHeadless,
		ExecPath:     cfg.BrowserExecPath,
		RemoteURL:    cfg.BrowserRemoteURL,
		WindowWidth:  cfg.BrowserWindowWidth,
		WindowHeight: cfg.BrowserWindowHeight,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to start browser", "error", err)
		return 1
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("failed to close browser", "error", err)
		}
	}()

	runner := automation.NewRunner(page, automation.SettingsFromConfig(cfg), opts...)
	report, runErr := runner.Run(ctx)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := runMetrics.Push(pushCtx, cfg.MetricsPushgatewayURL, "esus_pec_automation"); err != nil {
		logger.Warn("failed to push metrics", "error", err)
	}

	if report != nil {
		logger.Info("run report",
			"run_id", report.RunID,
			"stages", len(report.Stages),
			"notified", report.Notified,
			"duration", report.FinishedAt.Sub(report.StartedAt),
		)
		if report.Note != nil {
			logger.Info("note state", "code", report.Note.Code, "state", report.Note.State)
		}
		if report.Artifacts != nil {
			logger.Info("failure artifacts saved", "files", report.Artifacts.Files, "s3_keys", report.Artifacts.S3Keys)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("automation interrupted")
			return 130
		}
		logger.Error("automation failed", "error", runErr)
		return 1
	}
	return 0
}
