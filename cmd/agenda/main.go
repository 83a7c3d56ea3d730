package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agenda/internal/api"
	"agenda/internal/audit"
	"agenda/internal/booking"
	"agenda/internal/config"
	"agenda/internal/db"
	"agenda/internal/manager"
	"agenda/internal/metrics"
	"agenda/internal/notify"
	"agenda/internal/rulecache"
	"agenda/internal/slots"
	"agenda/internal/wizard"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("AGENDA_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		logger = logger.Level(lvl)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	rules := rulecache.New(database, rdb, cfg.RulesCacheTTL(), logger)

	watcher := &config.ProvidersWatcher{
		Path:     cfg.ProvidersConfigPath,
		Interval: 30 * time.Second,
		Logger:   logger,
		Apply: func(ctx context.Context, updated *config.ProvidersConfig) error {
			ids, err := database.SyncProvidersFromConfig(ctx, updated)
			if err != nil {
				return err
			}
			rules.Invalidate(ctx, ids...)
			metrics.IncConfigReload("applied")
			logger.Info().Int("providers", len(ids)).Msg("providers config applied")
			return nil
		},
		OnError: func(error) { metrics.IncConfigReload("failed") },
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("providers watch failed")
	}

	gen := slots.NewGenerator(
		slots.WithGranularity(cfg.SlotGranularity()),
		slots.WithLocation(loc),
		slots.WithHorizon(cfg.MaxAdvanceDays()),
		slots.WithLogger(logger),
	)
	slotService := slots.NewService(rules, database, gen)

	email := emailSender(cfg, logger)
	channels := []notify.Channel{{Name: "email", Notifier: notify.NewEmailNotifier(email)}}
	if cfg.Telegram.BotToken != "" {
		alert, err := notify.NewTelegramAlert(cfg.Telegram.BotToken, cfg.Telegram.Debug, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram alerts disabled")
		} else {
			channels = append(channels, notify.Channel{Name: "telegram", Notifier: alert, Optional: true})
		}
	}
	notifier := notify.NewMulti(notify.MultiConfig{
		RatePerSecond: cfg.Notify.RatePerSecond,
		Burst:         cfg.Notify.Burst,
	}, logger, channels...)

	coordinator := booking.NewCoordinator(booking.Config{
		Slots:         slotService,
		Clients:       database,
		Appointments:  database,
		Providers:     database,
		Notifier:      notifier,
		NotifyTimeout: cfg.NotificationTimeout(),
		Logger:        logger,
	})

	sessions := wizard.NewSessionStore(cfg.SessionTimeout(), slotService, coordinator)
	go sessions.Run(ctx, time.Minute)

	checks := map[string]api.Check{"database": database.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	router := api.NewRouter(api.Config{
		Providers: database,
		Slots:     slotService,
		Booker:    coordinator,
		Manager:   manager.NewService(database, database, email, logger),
		Exporter:  audit.NewExporter(database),
		Sessions:  sessions,
		Checks:    checks,
		Logger:    logger,

		ManagerAPIKeys: cfg.HTTP.ManagerAPIKeys,
	})
	if len(cfg.HTTP.ManagerAPIKeys) == 0 {
		logger.Warn().Msg("http.manager_api_keys is empty, manager routes are unauthenticated")
	}

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		go db.NewBackupService(database, backupConfig(cfg), logger).Start(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("addr", cfg.HTTP.Address).Msg("agenda API started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("agenda API stopped")
}

func emailSender(cfg *config.Config, logger zerolog.Logger) notify.EmailSender {
	if cfg.Email.Enabled {
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.Email.APIKey,
			FromEmail: cfg.Email.FromEmail,
			FromName:  cfg.Email.FromName,
		}, logger); sg != nil {
			return sg
		}
		logger.Warn().Msg("email enabled without sendgrid_api_key, logging emails instead")
	}
	return notify.NewStubEmailSender(logger)
}

func backupConfig(cfg *config.Config) db.BackupConfig {
	return db.BackupConfig{
		Dir:       cfg.Backup.Path,
		Interval:  time.Duration(cfg.Backup.IntervalHours) * time.Hour,
		Retention: time.Duration(cfg.Backup.RetentionDays) * 24 * time.Hour,
		Delay:     time.Minute,
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
