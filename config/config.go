package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the tipvaultd node configuration.
type Config struct {
	DataDir          string `toml:"DataDir"`
	Environment      string `toml:"Environment"`
	OracleAddress    string `toml:"OracleAddress"`
	VaultAddress     string `toml:"VaultAddress"`
	FeeTreasury      string `toml:"FeeTreasury"`
	FeeBps           uint32 `toml:"FeeBps"`
	MinimumTipAmount string `toml:"MinimumTipAmount"`
	AllowRelink      bool   `toml:"AllowRelink"`
	LogPath          string `toml:"LogPath,omitempty"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the numeric fields that TOML cannot express natively.
func (c *Config) Validate() error {
	if c.FeeBps > 10_000 {
		return fmt.Errorf("config: FeeBps must be <= 10000, got %d", c.FeeBps)
	}
	if c.MinimumTipAmount != "" {
		min, ok := new(big.Int).SetString(c.MinimumTipAmount, 10)
		if !ok || min.Sign() <= 0 {
			return fmt.Errorf("config: MinimumTipAmount must be a positive integer, got %q", c.MinimumTipAmount)
		}
	}
	return nil
}

// MinimumTip returns the parsed minimum deposit, defaulting to 1.
func (c *Config) MinimumTip() *big.Int {
	if c.MinimumTipAmount == "" {
		return big.NewInt(1)
	}
	min, ok := new(big.Int).SetString(c.MinimumTipAmount, 10)
	if !ok {
		return big.NewInt(1)
	}
	return min
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:          "./tipvault-data",
		Environment:      "dev",
		FeeBps:           100,
		MinimumTipAmount: "1000000",
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
