package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// ErrBetaOutOfRange is returned when the configured skew parameter leaves the
// [50,100] window the pricing math is defined over.
var ErrBetaOutOfRange = errors.New("config: beta outside [50,100]")

// TokenConfig declares a token's identity and decimal precision for price
// normalization.
type TokenConfig struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// PoolConfig declares one reserve pool the daemon hosts.
type PoolConfig struct {
	Address    string `toml:"Address"`
	BaseToken  string `toml:"BaseToken"`
	QuoteToken string `toml:"QuoteToken"`
	Margin     string `toml:"Margin"`
}

// Config carries the apexd daemon settings.
type Config struct {
	ListenAddress          string        `toml:"ListenAddress"`
	DataDir                string        `toml:"DataDir"`
	LogFile                string        `toml:"LogFile"`
	EthRPCEndpoint         string        `toml:"EthRPCEndpoint"`
	UniswapFactory         string        `toml:"UniswapFactory"`
	EngineFactory          string        `toml:"EngineFactory"`
	Beta                   uint8         `toml:"Beta"`
	TwapIntervalSeconds    int64         `toml:"TwapIntervalSeconds"`
	PollIntervalSeconds    int64         `toml:"PollIntervalSeconds"`
	ObservationCardinality uint16        `toml:"ObservationCardinality"`
	APIRequestsPerMinute   float64       `toml:"APIRequestsPerMinute"`
	Tokens                 []TokenConfig `toml:"Tokens"`
	Pools                  []PoolConfig  `toml:"Pools"`
}

// Load reads the configuration from the given path, creating a default file
// on first run.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the pricing core depends on.
func (c *Config) Validate() error {
	if c.Beta < 50 || c.Beta > 100 {
		return ErrBetaOutOfRange
	}
	if c.TwapIntervalSeconds <= 0 {
		return fmt.Errorf("config: twap interval must be positive")
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: poll interval must be positive")
	}
	if c.ObservationCardinality == 0 {
		return fmt.Errorf("config: observation cardinality must be positive")
	}
	if c.APIRequestsPerMinute < 0 {
		return fmt.Errorf("config: api rate limit must not be negative")
	}
	for _, token := range c.Tokens {
		if !common.IsHexAddress(strings.TrimSpace(token.Address)) {
			return fmt.Errorf("config: invalid token address %q", token.Address)
		}
	}
	if factory := strings.TrimSpace(c.EngineFactory); factory != "" && !common.IsHexAddress(factory) {
		return fmt.Errorf("config: invalid engine factory address %q", c.EngineFactory)
	}
	if len(c.Pools) > 0 && strings.TrimSpace(c.EngineFactory) == "" {
		return fmt.Errorf("config: engine factory required when pools are configured")
	}
	for _, pool := range c.Pools {
		if !common.IsHexAddress(strings.TrimSpace(pool.Address)) {
			return fmt.Errorf("config: invalid pool address %q", pool.Address)
		}
		if !common.IsHexAddress(strings.TrimSpace(pool.BaseToken)) || !common.IsHexAddress(strings.TrimSpace(pool.QuoteToken)) {
			return fmt.Errorf("config: pool %s has an invalid token address", pool.Address)
		}
		if margin := strings.TrimSpace(pool.Margin); margin != "" && !common.IsHexAddress(margin) {
			return fmt.Errorf("config: pool %s has an invalid margin address", pool.Address)
		}
	}
	return nil
}

// TokenDecimals resolves a configured token's decimal precision.
func (c *Config) TokenDecimals(token common.Address) (uint8, bool) {
	for _, entry := range c.Tokens {
		if common.HexToAddress(entry.Address) == token {
			return entry.Decimals, true
		}
	}
	return 0, false
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./apex-data"
	}
	if cfg.Beta == 0 {
		cfg.Beta = 100
	}
	if cfg.TwapIntervalSeconds == 0 {
		cfg.TwapIntervalSeconds = 1800
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 15
	}
	if cfg.ObservationCardinality == 0 {
		cfg.ObservationCardinality = 120
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
