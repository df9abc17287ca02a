package oracle

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the oracle service.
type Config struct {
	ListenAddress  string
	SignerKeyHex   string
	SessionSecret  string
	SessionTTL     time.Duration
	AuthorizeRate  float64
	AuthorizeBurst int
	Provider       ProviderConfig
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:  getenvDefault("ORACLE_LISTEN", ":8090"),
		SignerKeyHex:   os.Getenv("ORACLE_SIGNER_KEY"),
		SessionSecret:  os.Getenv("ORACLE_SESSION_SECRET"),
		SessionTTL:     defaultSessionTTL,
		AuthorizeRate:  5,
		AuthorizeBurst: 10,
		Provider: ProviderConfig{
			ClientID:     os.Getenv("ORACLE_OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("ORACLE_OAUTH_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("ORACLE_OAUTH_REDIRECT_URL"),
			AuthURL:      os.Getenv("ORACLE_OAUTH_AUTH_URL"),
			TokenURL:     os.Getenv("ORACLE_OAUTH_TOKEN_URL"),
			UserInfoURL:  os.Getenv("ORACLE_OAUTH_USERINFO_URL"),
			Scopes:       splitScopes(os.Getenv("ORACLE_OAUTH_SCOPES")),
		},
	}
	if raw := strings.TrimSpace(os.Getenv("ORACLE_SESSION_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse ORACLE_SESSION_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, fmt.Errorf("ORACLE_SESSION_TTL must be positive")
		}
		cfg.SessionTTL = dur
	}
	if raw := strings.TrimSpace(os.Getenv("ORACLE_AUTHORIZE_RATE")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("ORACLE_AUTHORIZE_RATE must be a positive number")
		}
		cfg.AuthorizeRate = v
	}
	if raw := strings.TrimSpace(os.Getenv("ORACLE_AUTHORIZE_BURST")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("ORACLE_AUTHORIZE_BURST must be a positive integer")
		}
		cfg.AuthorizeBurst = v
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return Config{}, fmt.Errorf("ORACLE_SESSION_SECRET is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func splitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
