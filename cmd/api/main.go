package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/deadlydiamond/devflow/internal/app/migrate"
	httpx "github.com/deadlydiamond/devflow/internal/http"
	"github.com/deadlydiamond/devflow/internal/jira"
	"github.com/deadlydiamond/devflow/internal/notify"
	"github.com/deadlydiamond/devflow/internal/repository/postgres"
	"github.com/deadlydiamond/devflow/internal/service/auth"
	"github.com/deadlydiamond/devflow/internal/service/links"
	"github.com/deadlydiamond/devflow/internal/service/settings"
	"github.com/deadlydiamond/devflow/internal/service/syncer"
	"github.com/deadlydiamond/devflow/internal/service/tracker"
	"github.com/deadlydiamond/devflow/internal/slack"
	"github.com/deadlydiamond/devflow/internal/ws"
	"github.com/deadlydiamond/devflow/pkg/config"
	"github.com/deadlydiamond/devflow/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	notifier := notify.NewHubSink(hub, log)

	settingsSvc := settings.New(repo, cfg.CredentialKey,
		settings.SlackSettings{Token: cfg.SlackToken, ChannelID: cfg.SlackChannelID},
		settings.JiraSettings{BaseURL: cfg.JiraBaseURL, Email: cfg.JiraEmail, APIToken: cfg.JiraAPIToken},
		log)
	if err := settingsSvc.Load(ctx); err != nil {
		log.Error("failed to load integration settings", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if addr := strings.TrimSpace(cfg.EventRedisAddr); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.EventRedisPass,
			DB:       cfg.EventRedisDB,
		})
		defer rdb.Close()
	}

	store := tracker.NewEventStore(cfg.EventFeedLimit, rdb, log)
	if err := store.Load(ctx); err != nil {
		log.Warn("event feed restore failed, starting empty", "error", err)
	}

	guard := slack.NewCooldownGuard(cfg.SlackCooldown)
	slackClient := slack.NewClient(cfg.SlackAPIBase, settingsSvc.SlackToken, guard, log)
	jiraClient := jira.NewClient(settingsSvc.JiraCredentials, log)

	authSvc := auth.New(cfg.AdminPasswordHash, cfg.JWTSecret, cfg.SessionTTL, log)
	linkSvc := links.New(repo, store, notifier, log)
	syncSvc := syncer.New(jiraClient, notifier, log)

	matcher := tracker.NewMatcher(log)
	listener := tracker.NewListener(slackClient, matcher, store, linkSvc, syncSvc, hub, notifier,
		settingsSvc.SlackChannelID, cfg.SlackPollEvery, cfg.SlackHistoryMax, log)
	go listener.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	router := httpx.NewRouter(log, authSvc, linkSvc, store, syncSvc, settingsSvc, slackClient, jiraClient, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
