package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tipvault/config"
	"tipvault/core/events"
	"tipvault/core/state"
	"tipvault/crypto"
	"tipvault/native/tipping"
	"tipvault/native/token"
	"tipvault/observability/logging"
	"tipvault/rpc"
	"tipvault/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "tipvault.toml", "path to the node configuration file")
	listen := flag.String("listen", ":8080", "ledger HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger := logging.Setup("tipvaultd", cfg.Environment)
	if cfg.LogPath != "" {
		logger = logging.SetupWithRotation("tipvaultd", cfg.Environment, logging.RotationConfig{
			Path:      cfg.LogPath,
			MaxSizeMB: 100,
		})
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open ledger database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := state.NewStore(db)
	log := events.NewLog(db)
	book := token.NewBook()

	engine := tipping.NewEngine()
	engine.SetState(store)
	engine.SetToken(book)
	engine.SetEmitter(log)
	engine.SetFeeConfig(tipping.FeeConfig{
		FeeBps:           cfg.FeeBps,
		MinimumTipAmount: cfg.MinimumTip(),
	})
	engine.SetAllowRelink(cfg.AllowRelink)
	if cfg.VaultAddress != "" {
		vault, err := crypto.ParseWallet(cfg.VaultAddress)
		if err != nil {
			logger.Error("parse vault address", "err", err)
			os.Exit(1)
		}
		engine.SetVaultAddress(vault)
	}
	if cfg.OracleAddress != "" {
		oracle, err := crypto.ParseWallet(cfg.OracleAddress)
		if err != nil {
			logger.Error("parse oracle address", "err", err)
			os.Exit(1)
		}
		engine.SetOracle(oracle)
	}
	if cfg.FeeTreasury != "" {
		treasury, err := crypto.ParseWallet(cfg.FeeTreasury)
		if err != nil {
			logger.Error("parse fee treasury address", "err", err)
			os.Exit(1)
		}
		engine.SetFeeTreasury(treasury)
	}

	server, err := rpc.NewServer(engine, log, logger)
	if err != nil {
		logger.Error("build rpc server", "err", err)
		os.Exit(1)
	}
	srv := &http.Server{Addr: *listen, Handler: server.Routes()}

	go func() {
		logger.Info("ledger listening", "addr", *listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down tipvaultd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
