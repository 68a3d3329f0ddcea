package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tolka/internal/api"
	"tolka/internal/config"
	"tolka/internal/database"
	"tolka/internal/domain"
	"tolka/internal/events"
	"tolka/internal/export"
	"tolka/internal/google"
	"tolka/internal/logging"
	"tolka/internal/metrics"
	"tolka/internal/notify"
	"tolka/internal/repository"
	"tolka/internal/service"
	"tolka/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	templates, err := notify.NewTemplateRegistry(cfg.Notifications.TemplatesFile)
	if err != nil {
		logger.Error().Err(err).Msg("load notification templates")
		return err
	}

	prefs := initPrefs(cfg, redisClient, &logger)
	push := initPush(cfg, templates, &logger)
	mailer := notify.NewSMTPMailer(cfg.SMTP)

	dispatcherLogger := logger.With().Str("component", "dispatcher").Logger()
	dispatcher := notify.NewDispatcher(db, mailer, push, prefs, db, templates, &dispatcherLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retry := worker.RetryPolicy{MaxRetries: cfg.Notifications.MaxRetries}

	notifierLogger := logger.With().Str("component", "notifier").Logger()
	notifier := worker.NewNotifierWorker(db, db, dispatcher, redisClient, retry, &notifierLogger)
	notifier.SetPollInterval(time.Duration(cfg.Notifications.PollSeconds) * time.Second)
	notifier.SetBatchSize(cfg.Notifications.BatchSize)
	go notifier.Start(ctx)

	var mirror domain.MirrorWorker
	if sheetsService := initGoogleSheets(cfg, &logger); sheetsService != nil {
		mirrorLogger := logger.With().Str("component", "mirror").Logger()
		mirrorWorker := worker.NewMirrorWorker(sheetsService, redisClient, retry, &mirrorLogger)
		go mirrorWorker.Start(ctx)
		mirror = mirrorWorker
	}

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventBookingUpdated, func(*events.Event) error {
		metrics.IncBookingUpdated()
		return nil
	})

	serviceLogger := logger.With().Str("component", "booking-service").Logger()
	bookings := service.NewBookingService(db, dispatcher, eventBus, mirror, &serviceLogger)

	exportLogger := logger.With().Str("component", "export").Logger()
	exporter := export.NewExporter(db, cfg.Exports.Path, &exportLogger)

	httpLogger := logger.With().Str("component", "http").Logger()
	httpServer := api.NewHTTPServer(cfg.API, bookings, exporter, &httpLogger)

	startMetrics(ctx, cfg, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initPrefs(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.PrefsRepository {
	memory := repository.NewMemoryPrefsRepository()
	if redisClient == nil {
		return memory
	}

	primary := repository.NewRedisPrefsRepository(redisClient, 24*time.Hour)
	prefsLogger := logger.With().Str("component", "prefs").Logger()
	return repository.NewFailoverPrefsRepository(primary, memory, &prefsLogger)
}

func initPush(cfg *config.Config, templates *notify.TemplateRegistry, logger *zerolog.Logger) domain.PushSender {
	pushLogger := logger.With().Str("component", "push").Logger()
	if cfg.Telegram.BotToken == "" {
		logger.Warn().Msg("telegram bot token missing, pushes disabled")
		return notify.NopPushSender{}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, pushes disabled")
		return notify.NopPushSender{}
	}
	bot.Debug = cfg.Telegram.Debug

	return notify.NewTelegramPushSender(bot, templates, &pushLogger)
}

func initGoogleSheets(cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(
		cfg.Google.GoogleCredentialsFile,
		cfg.Google.BookingSpreadSheetID,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
