package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_YAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.yaml")
	yaml := `
env: dev
database:
  url: postgres://u:p@localhost:5432/events
auth:
  jwt_secret: secret
payment:
  currency: eur
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://u:p@localhost:5432/events" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Payment.Currency != "eur" {
		t.Errorf("currency = %q, want eur", cfg.Payment.Currency)
	}
	if cfg.Security.MaxLoginAttempts != 5 {
		t.Errorf("max login attempts = %d, want 5", cfg.Security.MaxLoginAttempts)
	}
	if cfg.Security.Lockout != 15*time.Minute {
		t.Errorf("lockout = %v, want 15m", cfg.Security.Lockout)
	}
	if cfg.Security.ResetTokenTTL != time.Hour {
		t.Errorf("reset token ttl = %v, want 1h", cfg.Security.ResetTokenTTL)
	}
	if cfg.Payment.StripeSecretKey != "" {
		t.Errorf("expected empty stripe key selecting the simulated gateway")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_StripeKeyRequiresWebhookSecret(t *testing.T) {
	tests := []struct {
		name    string
		payment string
		wantErr bool
	}{
		{name: "simulated_gateway", payment: "  currency: usd\n", wantErr: false},
		{name: "stripe_without_secret", payment: "  stripe_secret_key: sk_test_123\n", wantErr: true},
		{name: "stripe_with_secret", payment: "  stripe_secret_key: sk_test_123\n  webhook_secret: whsec_abc\n", wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "local.yaml")
			yaml := "env: dev\npayment:\n" + tt.payment
			if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
