package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FeeBps != 100 {
		t.Fatalf("FeeBps = %d, want 100", cfg.FeeBps)
	}
	if cfg.MinimumTipAmount != "1000000" {
		t.Fatalf("MinimumTipAmount = %q", cfg.MinimumTipAmount)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	// Second load reads the file it just created.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.FeeBps != cfg.FeeBps || again.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
DataDir = "/var/lib/tipvault"
Environment = "prod"
OracleAddress = "0x0102030405060708090a0b0c0d0e0f1011121314"
FeeBps = 250
MinimumTipAmount = "500"
AllowRelink = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FeeBps != 250 || !cfg.AllowRelink || cfg.Environment != "prod" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MinimumTip().Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("minimum tip = %s, want 500", cfg.MinimumTip())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{FeeBps: 10_001}
	if err := cfg.Validate(); err == nil {
		t.Fatal("FeeBps over 10000 accepted")
	}
	cfg = &Config{FeeBps: 100, MinimumTipAmount: "zero"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("non-numeric minimum accepted")
	}
	cfg = &Config{FeeBps: 100, MinimumTipAmount: "-5"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative minimum accepted")
	}
}

func TestMinimumTipDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.MinimumTip().Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("default minimum = %s, want 1", cfg.MinimumTip())
	}
}
