package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Provider gateway types.
const (
	ProviderMockEmail = "mock-email"
	ProviderHTTP      = "http"
)

// Config holds all SpendGuard configuration.
type Config struct {
	Listen    string              `yaml:"listen"`
	Log       LogConfig           `yaml:"log"`
	Store     StoreConfig         `yaml:"store"`
	Policy    models.PolicyConfig `yaml:"policy"`
	Budget    BudgetConfig        `yaml:"budget"`
	Payment   PaymentConfig       `yaml:"payment"`
	Audit     models.AuditConfig  `yaml:"audit"`
	Providers []ProviderConfig    `yaml:"providers"`
	Server    ServerConfig        `yaml:"server"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StoreConfig selects where guard state lives.
type StoreConfig struct {
	Backend     string      `yaml:"backend"`
	DBPath      string      `yaml:"db_path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig is the connection for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// BudgetConfig seeds the spend ledger.
type BudgetConfig struct {
	DailyLimit models.Amount `yaml:"daily_limit"`
	// EnforceOnQuote makes an insufficient budget deny unpaid requests too,
	// instead of only paid retries.
	EnforceOnQuote bool `yaml:"enforce_on_quote"`
}

// PaymentConfig controls quote lifetime and proof verification.
type PaymentConfig struct {
	PendingTTL      time.Duration `yaml:"pending_ttl"`
	SignatureScheme string        `yaml:"signature_scheme"` // mock or ed25519
}

// ProviderConfig defines a pay-per-call provider.
// Type is "mock-email" (default) or "http".
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"`
	PricePerCall models.Amount `yaml:"price_per_call"`
	Asset        string        `yaml:"asset"`
	Network      string        `yaml:"network"`
	PayTo        string        `yaml:"pay_to"`
	URL          string        `yaml:"url"`
	CallbackURL  string        `yaml:"callback_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	AdminSecret    string  `yaml:"admin_secret"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			DBPath:  "spendguard.db",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "spendguard:",
			},
		},
		Policy: models.PolicyConfig{
			MaxPricePerCall:  models.MustParseAmount("0.5"),
			AllowedProviders: []string{"email"},
			AllowedActions:   []string{"send"},
			AllowedTasks:     []string{"welcome_flow"},
		},
		Budget: BudgetConfig{
			DailyLimit: models.MustParseAmount("1"),
		},
		Payment: PaymentConfig{
			PendingTTL:      time.Hour,
			SignatureScheme: "mock",
		},
		Audit: models.AuditConfig{
			MaxEntries:  100,
			MaxBodySize: 4096,
		},
		Providers: []ProviderConfig{DefaultEmailProvider()},
		Server: ServerConfig{
			MaxBodyBytes: 1 << 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "spendguard",
		},
	}
}

// DefaultEmailProvider is the built-in mock email provider.
func DefaultEmailProvider() ProviderConfig {
	return ProviderConfig{
		Name:         "email",
		Type:         ProviderMockEmail,
		PricePerCall: models.MustParseAmount("0.001"),
		Asset:        "USDC",
		Network:      "base-sepolia",
		PayTo:        "0xMockWalletAddress",
		CallbackURL:  "/api/provider/email/send",
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendPostgres && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
	}
	switch c.Payment.SignatureScheme {
	case "mock", "ed25519":
	default:
		return fmt.Errorf("unknown signature scheme %q", c.Payment.SignatureScheme)
	}
	if c.Payment.PendingTTL <= 0 {
		return fmt.Errorf("payment.pending_ttl must be positive")
	}
	if c.Audit.MaxEntries <= 0 {
		return fmt.Errorf("audit.max_entries must be positive")
	}
	if c.Audit.MaxBodySize < 0 {
		return fmt.Errorf("audit.max_body_size must not be negative")
	}
	if c.Budget.DailyLimit < 0 {
		return fmt.Errorf("budget.daily_limit must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.Type == "" {
			p.Type = ProviderMockEmail
		}
		switch p.Type {
		case ProviderMockEmail:
		case ProviderHTTP:
			if p.URL == "" {
				return fmt.Errorf("provider %q: url is required for http providers", p.Name)
			}
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
		if p.PricePerCall < 0 {
			return fmt.Errorf("provider %q: price_per_call must not be negative", p.Name)
		}
	}
	return nil
}
