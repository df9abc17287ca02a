package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"tipvault/crypto"
	"tipvault/observability/logging"
	"tipvault/services/oracle"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.Setup("oracled", os.Getenv("ORACLE_ENV"))

	cfg, err := oracle.LoadConfigFromEnv()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	sessions, err := oracle.NewSessionManager([]byte(cfg.SessionSecret), cfg.SessionTTL)
	if err != nil {
		logger.Error("build session manager", "err", err)
		os.Exit(1)
	}
	verifier, err := oracle.NewVerifier(cfg.Provider, sessions)
	if err != nil {
		logger.Error("build verifier", "err", err)
		os.Exit(1)
	}

	// A missing key is tolerated at startup so the verifier can still run,
	// but every authorization request fails closed until one is configured.
	var signer *oracle.Signer
	if cfg.SignerKeyHex != "" {
		key, err := crypto.PrivateKeyFromHex(cfg.SignerKeyHex)
		if err != nil {
			logger.Error("load signer key", "err", err)
			os.Exit(1)
		}
		signer = oracle.NewSigner(key)
		if addr, err := signer.Address(); err == nil {
			if bech, err := crypto.NewAddress(crypto.TipPrefix, addr[:]); err == nil {
				logger.Info("oracle signer ready", "address", bech.String())
			}
		}
	} else {
		logger.Warn("no signer key configured, claim authorizations will fail closed")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.AuthorizeRate), cfg.AuthorizeBurst)
	server, err := oracle.NewServer(verifier, signer, sessions, limiter, logger)
	if err != nil {
		logger.Error("build server", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: server.Routes()}
	go func() {
		logger.Info("oracle listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down oracled")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
