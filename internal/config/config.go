package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Aevo VenueConfig
	DyDx VenueConfig

	// StartingValue is the paper-trading quote budget given to each
	// venue's wallet.
	StartingValue decimal.Decimal

	// PersistentTrades enables persistent-liquidity simulation: executed
	// paper trades are fed back into the books as depletion updates.
	PersistentTrades bool

	Redis RedisConfig
}

// VenueConfig holds per-venue feed settings.
type VenueConfig struct {
	// Symbol is the trading pair subscribed on the venue's order book
	// channel, in the venue's own notation.
	Symbol string

	// Fee is the venue's taker fee as a rate. Configured as a percentage
	// (e.g. "0.08" for 8 bps) and divided by 100 at load.
	Fee decimal.Decimal

	// URL overrides the venue's WebSocket endpoint.
	URL string
}

// RedisConfig holds journal settings. The journal is optional.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from environment variables prefixed with
// CROSSWIRE_. Validation failures here are the only fatal startup
// conditions; everything after startup retries forever.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CROSSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("aevo.fee", "0.08")
	v.SetDefault("aevo.url", "wss://ws.aevo.xyz")
	v.SetDefault("dydx.fee", "0.05")
	v.SetDefault("dydx.url", "wss://indexer.dydx.trade/v4/ws")
	v.SetDefault("starting_value", "10000")
	v.SetDefault("persistent_trades", false)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	cfg := &Config{}

	aevo, err := loadVenue(v, "aevo")
	if err != nil {
		return nil, err
	}
	cfg.Aevo = aevo

	dydx, err := loadVenue(v, "dydx")
	if err != nil {
		return nil, err
	}
	cfg.DyDx = dydx

	cfg.StartingValue, err = decimal.NewFromString(v.GetString("starting_value"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid starting_value: %w", err)
	}
	if cfg.StartingValue.Sign() <= 0 {
		return nil, fmt.Errorf("config: starting_value must be positive, got %s", cfg.StartingValue)
	}

	cfg.PersistentTrades = v.GetBool("persistent_trades")

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("redis.enabled"),
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	return cfg, nil
}

// loadVenue reads one venue's settings. The symbol is mandatory; the fee
// percentage is converted to a rate.
func loadVenue(v *viper.Viper, name string) (VenueConfig, error) {
	symbol := v.GetString(name + ".symbol")
	if symbol == "" {
		return VenueConfig{}, fmt.Errorf("config: %s.symbol is required", name)
	}

	feePct, err := decimal.NewFromString(v.GetString(name + ".fee"))
	if err != nil {
		return VenueConfig{}, fmt.Errorf("config: invalid %s.fee: %w", name, err)
	}
	if feePct.IsNegative() {
		return VenueConfig{}, fmt.Errorf("config: %s.fee must not be negative, got %s", name, feePct)
	}

	return VenueConfig{
		Symbol: symbol,
		Fee:    feePct.Div(decimal.NewFromInt(100)),
		URL:    v.GetString(name + ".url"),
	}, nil
}
