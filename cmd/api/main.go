package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"association/api/internal/activity"
	"association/api/internal/app"
	"association/api/internal/archive"
	"association/api/internal/config"
	"association/api/internal/email"
	"association/api/internal/logging"
	"association/api/internal/search"
	"association/api/internal/session"
	"association/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	deps := app.Dependencies{Logger: logger}
	var fallback interface {
		search.Searcher
		search.Loader
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		if err := store.ApplyMigrations(cfg.DatabaseURL); err != nil {
			logger.WithError(err).Fatal("migrations failed")
		}
		openCtx, cancelOpen := context.WithTimeout(ctx, cfg.DBWaitTimeout)
		db, err := store.Open(openCtx, cfg.DatabaseURL, store.PoolOptions{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
		cancelOpen()
		if err != nil {
			logger.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()

		deps.Store = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
	} else {
		logger.Warn("ASSOC_DATABASE_URL is not set; using the in-memory store")
		memory := store.NewMemoryStore()
		deps.Store = memory
		fallback = search.NewListSearcher(func(ctx context.Context) ([]search.Record, error) {
			return liveRecords(ctx, memory)
		})
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info("using Redis for session storage")
		deps.Sessions = redisStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliKey, logger)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, fallback, logger)
	deps.SearchLoader = fallback

	sender := mailSender(cfg)
	deps.EmailConfigured = sender.IsConfigured()
	if !deps.EmailConfigured {
		logger.Warn("mail is not configured; notifications are dropped")
	}
	notifier := email.NewNotifier(sender, logger, email.NotifierConfig{
		AppName:            "Activities",
		BaseURL:            cfg.PublicBaseURL,
		ActivityRecipients: cfg.ActivityNotifyTo,
		GEFLITSTAddress:    cfg.GEFLITSTAddress,
	})
	deps.Notifier = notifier

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		logger.WithError(err).Fatal("failed to create archive dir")
	}
	deps.Archive = archive.New(cfg.ArchiveDir)

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		logger.WithError(err).Warn("bootstrap error (will retry on next restart)")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "env": cfg.Env}).Info("activities API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	notifier.Wait()
	service.Wait()
}

// mailSender prefers SendGrid when an API key is configured.
func mailSender(cfg config.Config) email.Sender {
	if strings.TrimSpace(cfg.SendgridAPIKey) != "" {
		return email.NewSendgridService(cfg.SendgridAPIKey, cfg.SMTPFrom, cfg.SMTPFromName)
	}
	return email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
}

func liveRecords(ctx context.Context, memory *store.MemoryStore) ([]search.Record, error) {
	items, err := memory.ListActivities(ctx, store.ActivityFilter{Statuses: []activity.Status{
		activity.StatusToApprove,
		activity.StatusApproved,
		activity.StatusDisapproved,
	}})
	if err != nil {
		return nil, err
	}
	records := make([]search.Record, 0, len(items))
	for _, item := range items {
		records = append(records, search.RecordFromActivity(item))
	}
	return records, nil
}
