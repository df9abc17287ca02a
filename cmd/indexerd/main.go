package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gorm.io/gorm"

	"tipvault/observability/logging"
	"tipvault/rpc"
	"tipvault/services/indexer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.Setup("indexerd", os.Getenv("INDEXER_ENV"))

	ledgerURL := strings.TrimSpace(os.Getenv("INDEXER_LEDGER_URL"))
	if ledgerURL == "" {
		logger.Error("INDEXER_LEDGER_URL is required")
		os.Exit(1)
	}

	var db *gorm.DB
	var err error
	if dsn := strings.TrimSpace(os.Getenv("INDEXER_POSTGRES_DSN")); dsn != "" {
		db, err = indexer.OpenPostgres(dsn)
	} else {
		db, err = indexer.OpenSQLite(getenvDefault("INDEXER_SQLITE_PATH", "indexer-cache.db"))
	}
	if err != nil {
		logger.Error("open cache", "err", err)
		os.Exit(1)
	}

	maxRange := uint64(1000)
	if raw := strings.TrimSpace(os.Getenv("INDEXER_MAX_RANGE")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			logger.Error("INDEXER_MAX_RANGE must be a positive integer")
			os.Exit(1)
		}
		maxRange = v
	}
	interval := 5 * time.Second
	if raw := strings.TrimSpace(os.Getenv("INDEXER_POLL_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil || dur <= 0 {
			logger.Error("INDEXER_POLL_INTERVAL must be a positive duration")
			os.Exit(1)
		}
		interval = dur
	}

	rec, err := indexer.New(indexer.Config{
		DB:       db,
		Ledger:   rpc.NewClient(ledgerURL),
		MaxRange: maxRange,
		Logger:   logger,
		Metrics:  indexer.NewMetrics(),
	})
	if err != nil {
		logger.Error("build reconciler", "err", err)
		os.Exit(1)
	}

	server, err := indexer.NewServer(rec, logger)
	if err != nil {
		logger.Error("build server", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := rec.Run(ctx, interval); err != nil && ctx.Err() == nil {
			logger.Error("reconciler stopped", "err", err)
		}
	}()

	listen := getenvDefault("INDEXER_LISTEN", ":8095")
	srv := &http.Server{Addr: listen, Handler: server.Routes()}
	go func() {
		logger.Info("indexer listening", "addr", listen, "ledger", ledgerURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down indexerd")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
