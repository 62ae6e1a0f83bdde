package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wolfman30/esus-pec-automation/internal/api/router"
	"github.com/wolfman30/esus-pec-automation/internal/app/bootstrap"
	"github.com/wolfman30/esus-pec-automation/internal/config"
	"github.com/wolfman30/esus-pec-automation/internal/messaging/telegramclient"
	"github.com/wolfman30/esus-pec-automation/internal/observability/metrics"
	"github.com/wolfman30/esus-pec-automation/internal/worker/notifierbot"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := bootstrap.BuildLogger(cfg, "notifier-bot")
	defer logger.Close()

	if err := cfg.ValidateBot(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := telegramclient.New(telegramclient.Config{
		BaseURL: cfg.TelegramAPIBaseURL,
		Token:   cfg.TelegramBotToken,
		Timeout: cfg.TelegramPollTimeout + 10*time.Second,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("failed to create telegram client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	meCtx, meCancel := context.WithTimeout(ctx, 15*time.Second)
	me, err := client.GetMe(meCtx)
	meCancel()
	if err != nil {
		logger.Error("telegram token rejected", "error", err)
		os.Exit(1)
	}
	logger.Info("bot authenticated", "username", me.Username, "id", me.ID)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	botMetrics := metrics.NewBotMetrics(reg)

	bot := notifierbot.NewBot(client, cfg.TelegramGroupChatID, logger).
		WithOffsetStore(bootstrap.BuildOffsetStore(redisClient, logger)).
		WithPollTimeout(cfg.TelegramPollTimeout).
		WithLocation(cfg.Location()).
		WithMetrics(botMetrics)

	checks := map[string]router.HealthCheck{}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	srv := &http.Server{
		Addr: cfg.BotHTTPAddr,
		Handler: router.New(&router.Config{
			Logger:   logger,
			Gatherer: reg,
			Checks:   checks,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Run(ctx)
	}()
	logger.Info("notifier bot started", "group_chat_id", cfg.TelegramGroupChatID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("notifier bot shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server forced to shutdown", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("bot did not stop in time")
	}
}
