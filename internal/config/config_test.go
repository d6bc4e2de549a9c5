package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("HTTP_TIMEOUT", "")

	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.HTTPTimeout)
	}
	if cfg.GeminiModel == "" {
		t.Error("expected a default gemini model")
	}
}

func TestLoad_OAuthClientsAndPrices(t *testing.T) {
	t.Setenv("TWITTER_CLIENT_ID", "tw-id")
	t.Setenv("TWITTER_CLIENT_SECRET", "tw-secret")
	t.Setenv("STRIPE_PRICE_GROWTH_MONTH", "price_growth_m")
	t.Setenv("ADMIN_EMAILS", "ops@getjetsuite.com, ,Founder@getjetsuite.com")

	cfg := Load()

	if !cfg.OAuthClients["twitter"].Configured() {
		t.Error("expected twitter client to be configured")
	}
	if cfg.OAuthClients["tiktok"].Configured() {
		t.Error("expected tiktok client to be unconfigured")
	}
	if got := cfg.StripePrices["growth_month"]; got != "price_growth_m" {
		t.Errorf("expected growth price, got %q", got)
	}
	if len(cfg.AdminEmails) != 2 {
		t.Fatalf("expected 2 admin emails, got %v", cfg.AdminEmails)
	}
	if !cfg.IsAdmin("founder@getjetsuite.com") {
		t.Error("admin match should ignore case")
	}
}

func TestValidate_RequiresSecretsWithSupabase(t *testing.T) {
	cfg := &Config{Port: 8080, UseSupabase: true, SupabaseURL: "https://x.supabase.co"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing secrets")
	}

	cfg.SupabaseServiceKey = "service"
	cfg.SupabaseJWTSecret = "jwt"
	cfg.EncryptionKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport JS_TEST_A=\"quoted value\"\nJS_TEST_B=plain # trailing\nJS_TEST_C=from-file\nbroken-line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JS_TEST_C", "from-env")
	os.Unsetenv("JS_TEST_A")
	os.Unsetenv("JS_TEST_B")
	t.Cleanup(func() {
		os.Unsetenv("JS_TEST_A")
		os.Unsetenv("JS_TEST_B")
	})

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := os.Getenv("JS_TEST_A"); got != "quoted value" {
		t.Errorf("JS_TEST_A = %q", got)
	}
	if got := os.Getenv("JS_TEST_B"); got != "plain" {
		t.Errorf("JS_TEST_B = %q", got)
	}
	if got := os.Getenv("JS_TEST_C"); got != "from-env" {
		t.Errorf("JS_TEST_C = %q, env should win", got)
	}
}

func TestProxyPrefixes(t *testing.T) {
	cfg := &Config{Port: 8080, TrustedProxies: []string{"10.0.0.0/8", "192.0.2.7", "2001:db8::/32"}}
	prefixes, err := cfg.ProxyPrefixes()
	if err != nil {
		t.Fatalf("ProxyPrefixes: %v", err)
	}
	if len(prefixes) != 3 || prefixes[1].String() != "192.0.2.7/32" {
		t.Errorf("unexpected prefixes: %v", prefixes)
	}

	cfg.TrustedProxies = []string{"not-an-ip"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Errorf("expected TRUSTED_PROXIES error, got %v", err)
	}
}
