package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lunahub/agent-gateway/internal/auth/credential"
	"github.com/lunahub/agent-gateway/internal/catalog"
	"github.com/lunahub/agent-gateway/internal/config"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/logging"
	"github.com/lunahub/agent-gateway/internal/metrics"
	"github.com/lunahub/agent-gateway/internal/proxy"
	"github.com/lunahub/agent-gateway/internal/relay"
	"github.com/lunahub/agent-gateway/internal/upstream"
	"github.com/lunahub/agent-gateway/internal/version"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if err := store.EnsureAdmin(ctx, cfg.Auth.AdminPhone, cfg.Auth.AdminPassword); err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}
	if cfg.AgentsFile != "" {
		if err := catalog.Apply(ctx, store, cfg.AgentsFile); err != nil {
			log.Fatalf("Failed to seed agents from %s: %v", cfg.AgentsFile, err)
		}
	}

	issuer, err := credential.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to create token issuer: %v", err)
	}

	collector := metrics.NewCollector(nil)
	upstreamClient := upstream.NewClient(cfg.Upstream, collector)
	defer upstreamClient.CloseIdleConnections()

	router := proxy.NewRouter(proxy.Deps{
		Store:       store,
		Issuer:      issuer,
		Relay:       relay.New(store, upstreamClient, collector),
		Metrics:     collector,
		CORSOrigins: cfg.CORSOrigins,
	})

	// No WriteTimeout: chat streams stay open for as long as the agent
	// answers, bounded by UPSTREAM_READ_TIMEOUT.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":    cfg.Addr(),
			"version": version.Version,
			"commit":  version.Commit,
		}).Info("🚀 Agent gateway starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("🛑 Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
}
