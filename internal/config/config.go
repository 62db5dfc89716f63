// Package config loads the application configuration: the reusable core
// sections plus database, MTProto, watcher, cache, events and shop settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/numbershop/core/config"
	coredatabase "github.com/m3rciful/numbershop/core/database"
)

// MTProtoConfig holds the application credentials used to resume stored sessions.
type MTProtoConfig struct {
	APIID              int    `yaml:"api_id" envconfig:"MTPROTO_API_ID"`
	APIHash            string `yaml:"api_hash" envconfig:"MTPROTO_API_HASH"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds" envconfig:"MTPROTO_DIAL_TIMEOUT_SECONDS"`
}

// DialTimeout bounds opening a connection.
func (m MTProtoConfig) DialTimeout() time.Duration {
	return time.Duration(m.DialTimeoutSeconds) * time.Second
}

// WatcherConfig tunes code freshness and the automatic poll loop.
type WatcherConfig struct {
	CodeFreshnessSeconds int `yaml:"code_freshness_seconds" envconfig:"WATCHER_CODE_FRESHNESS_SECONDS"`
	PollIntervalSeconds  int `yaml:"poll_interval_seconds" envconfig:"WATCHER_POLL_INTERVAL_SECONDS"`
	PollAttempts         int `yaml:"poll_attempts" envconfig:"WATCHER_POLL_ATTEMPTS"`
}

// Freshness is how long a captured code stays servable.
func (w WatcherConfig) Freshness() time.Duration {
	return time.Duration(w.CodeFreshnessSeconds) * time.Second
}

// PollInterval is the delay between automatic checks.
func (w WatcherConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// RedisConfig selects the Redis code cache; an empty Addr keeps codes in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// EventsConfig selects the RabbitMQ publisher; an empty AMQPURL logs events instead.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" envconfig:"AMQP_URL"`
	Exchange string `yaml:"exchange" envconfig:"EVENTS_EXCHANGE"`
}

// CountryConfig is a country seeded on first start.
type CountryConfig struct {
	Name  string `yaml:"name"`
	Emoji string `yaml:"emoji"`
	Price string `yaml:"price"`
}

// ShopConfig holds storefront settings. Money is written as decimal strings.
type ShopConfig struct {
	Currency       string          `yaml:"currency" envconfig:"SHOP_CURRENCY"`
	SupportContact string          `yaml:"support_contact" envconfig:"SHOP_SUPPORT_CONTACT"`
	UPIID          string          `yaml:"upi_id" envconfig:"SHOP_UPI_ID"`
	MinDeposit     string          `yaml:"min_deposit" envconfig:"SHOP_MIN_DEPOSIT"`
	Countries      []CountryConfig `yaml:"countries"`

	minDeposit decimal.Decimal
}

// MinDepositAmount returns the parsed minimum deposit.
func (s ShopConfig) MinDepositAmount() decimal.Decimal {
	return s.minDeposit
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	MTProto  MTProtoConfig       `yaml:"mtproto"`
	Watcher  WatcherConfig       `yaml:"watcher"`
	Redis    RedisConfig         `yaml:"redis"`
	Events   EventsConfig        `yaml:"events"`
	Shop     ShopConfig          `yaml:"shop"`
}

// CoreConfig exposes the embedded core configuration to the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the application sections and fills defaults.
func Normalize(cfg *Config) error {
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}
	if cfg.MTProto.APIID <= 0 || strings.TrimSpace(cfg.MTProto.APIHash) == "" {
		return fmt.Errorf("mtproto.api_id and mtproto.api_hash are required")
	}
	if cfg.MTProto.DialTimeoutSeconds <= 0 {
		cfg.MTProto.DialTimeoutSeconds = 20
	}

	if cfg.Watcher.CodeFreshnessSeconds <= 0 {
		cfg.Watcher.CodeFreshnessSeconds = 300
	}
	if cfg.Watcher.PollIntervalSeconds <= 0 {
		cfg.Watcher.PollIntervalSeconds = 5
	}
	if cfg.Watcher.PollAttempts <= 0 {
		cfg.Watcher.PollAttempts = 24
	}

	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "numbershop.events"
	}

	if cfg.Shop.Currency == "" {
		cfg.Shop.Currency = "₹"
	}
	if cfg.Shop.MinDeposit == "" {
		cfg.Shop.MinDeposit = "10"
	}
	minDeposit, err := decimal.NewFromString(cfg.Shop.MinDeposit)
	if err != nil || !minDeposit.IsPositive() {
		return fmt.Errorf("invalid shop.min_deposit %q", cfg.Shop.MinDeposit)
	}
	cfg.Shop.minDeposit = minDeposit
	for _, c := range cfg.Shop.Countries {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("shop.countries: name is required")
		}
		if p, err := decimal.NewFromString(c.Price); err != nil || p.IsNegative() {
			return fmt.Errorf("shop.countries %q: invalid price %q", c.Name, c.Price)
		}
	}
	return nil
}
