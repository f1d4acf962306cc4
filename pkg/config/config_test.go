package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Payment.PendingTTL != time.Hour {
		t.Errorf("expected 1h pending TTL, got %v", cfg.Payment.PendingTTL)
	}
	if cfg.Budget.DailyLimit != models.MustParseAmount("1") {
		t.Errorf("expected daily limit 1, got %s", cfg.Budget.DailyLimit)
	}
	if cfg.Audit.MaxEntries != 100 {
		t.Errorf("expected 100 audit entries, got %d", cfg.Audit.MaxEntries)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "email" {
		t.Fatalf("expected default email provider, got %+v", cfg.Providers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ADMIN_SECRET", "s3cret")

	content := `
listen: ":9090"
store:
  backend: sqlite
  db_path: "test.db"
policy:
  max_price_per_call: 0.25
  allowed_providers: [email, sms]
  allowed_actions: [send]
  allowed_tasks: [welcome_flow, digest]
budget:
  daily_limit: 2.5
payment:
  pending_ttl: 30m
providers:
  - name: email
    price_per_call: 0.002
    asset: USDC
    network: base-sepolia
    pay_to: "0xabc"
  - name: sms
    type: http
    url: http://localhost:9999
    price_per_call: 0.01
server:
  admin_secret: ${TEST_ADMIN_SECRET}
  rate_limit_rps: 5
`
	dir := t.TempDir()
	path := filepath.Join(dir, "spendguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.DBPath != "test.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Policy.MaxPricePerCall != models.MustParseAmount("0.25") {
		t.Errorf("max price = %s", cfg.Policy.MaxPricePerCall)
	}
	if len(cfg.Policy.AllowedTasks) != 2 {
		t.Errorf("allowed tasks = %v", cfg.Policy.AllowedTasks)
	}
	if cfg.Budget.DailyLimit != models.MustParseAmount("2.5") {
		t.Errorf("daily limit = %s", cfg.Budget.DailyLimit)
	}
	if cfg.Payment.PendingTTL != 30*time.Minute {
		t.Errorf("pending ttl = %v", cfg.Payment.PendingTTL)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Type != ProviderMockEmail {
		t.Errorf("provider type should default to %s, got %s", ProviderMockEmail, cfg.Providers[0].Type)
	}
	if cfg.Providers[1].PricePerCall != models.MustParseAmount("0.01") {
		t.Errorf("sms price = %s", cfg.Providers[1].PricePerCall)
	}
	if cfg.Server.AdminSecret != "s3cret" {
		t.Errorf("admin secret not expanded: %q", cfg.Server.AdminSecret)
	}
	// Unset sections keep defaults.
	if cfg.Audit.MaxEntries != 100 {
		t.Errorf("audit max entries = %d", cfg.Audit.MaxEntries)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/spendguard.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected defaults, got listen %s", cfg.Listen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Store.Backend = "etcd" }, "unknown store backend"},
		{"postgres dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "postgres_dsn"},
		{"scheme", func(c *Config) { c.Payment.SignatureScheme = "rsa" }, "signature scheme"},
		{"duplicate", func(c *Config) { c.Providers = append(c.Providers, DefaultEmailProvider()) }, "duplicate provider"},
		{"http url", func(c *Config) { c.Providers[0].Type = ProviderHTTP }, "url is required"},
		{"ttl", func(c *Config) { c.Payment.PendingTTL = 0 }, "pending_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
