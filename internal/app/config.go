package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// Catalog sources.
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Catalog     CatalogConfig
	Order       OrderConfig
	Payment     PaymentConfig
	Health      HealthConfig
	Graceful    GracefulConfig
}

// CatalogConfig selects where products and discount rules are loaded from.
type CatalogConfig struct {
	Source string `default:"embedded" usage:"Catalog source: embedded, file or postgres" flag:"catalog-source"`
	File   string `default:"" usage:"Path to the catalog JSON file when source is file" flag:"catalog-file"`
}

// OrderConfig controls order processing.
type OrderConfig struct {
	Rollback string `default:"all" usage:"Stock rollback on a failed deduction: all or deducted" flag:"order-rollback"`
}

// PaymentConfig caps the simulated payment gateways. Zero means no limit.
type PaymentConfig struct {
	CardLimit   string `default:"0" usage:"Maximum amount approved per card payment" flag:"card-limit"`
	PayPalLimit string `default:"0" usage:"Maximum amount approved per PayPal payment" flag:"paypal-limit"`
}

// HealthConfig controls background health checks.
type HealthConfig struct {
	Interval      time.Duration `default:"10s" usage:"Health check interval"`
	MaxGoroutines int           `default:"10000" usage:"Liveness goroutine threshold"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the KART_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Catalog.Source {
	case SourceEmbedded:
	case SourceFile:
		if c.Catalog.File == "" {
			return errors.New("catalog file is required: set KART_CATALOG_FILE")
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}

	if _, ok := order.ParseRollbackPolicy(c.Order.Rollback); !ok {
		return errors.Errorf("unknown rollback policy %q: use all or deducted", c.Order.Rollback)
	}
	if _, err := c.PaymentLimits(); err != nil {
		return err
	}
	if c.Health.Interval <= 0 {
		return errors.New("health interval must be positive")
	}
	return nil
}

// RollbackPolicy returns the parsed order rollback policy.
func (c *Config) RollbackPolicy() order.RollbackPolicy {
	p, _ := order.ParseRollbackPolicy(c.Order.Rollback)
	return p
}

// PaymentLimits parses the configured gateway limits.
func (c *Config) PaymentLimits() (payment.Limits, error) {
	card, err := parseLimit(c.Payment.CardLimit)
	if err != nil {
		return payment.Limits{}, errors.Wrap(err, "card limit")
	}
	paypal, err := parseLimit(c.Payment.PayPalLimit)
	if err != nil {
		return payment.Limits{}, errors.Wrap(err, "paypal limit")
	}
	return payment.Limits{Card: card, PayPal: paypal}, nil
}

func parseLimit(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, errors.Errorf("limit %s must not be negative", s)
	}
	return v, nil
}
