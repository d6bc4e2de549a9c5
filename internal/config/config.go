package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string
	AppURL   string // front-end base URL, target of OAuth redirects
	APIURL   string // public base URL of this API, used for OAuth redirect URIs

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	UseSupabase        bool

	// Token encryption at rest
	EncryptionKey string

	// Redis (OAuth state + rate limiting)
	RedisURL string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePrices        map[string]string // "<plan>_<interval>", "extra_business[_year]", "extra_seat[_year]" → price id

	// Twilio
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Resend
	ResendAPIKey     string
	EmailFromAddress string
	EmailFromName    string

	// Gemini
	GeminiAPIKey string
	GeminiModel  string

	// Cal.com
	CalcomWebhookSecret string

	// Internal
	CronSecret  string
	AdminEmails []string

	// Proxies whose X-Forwarded-For is believed (IPs or CIDRs)
	TrustedProxies []string

	// OAuth client credentials keyed by platform
	OAuthClients map[string]OAuthClient
}

// OAuthClient is a client id/secret pair registered with a social platform.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves of the credential are present.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// platformEnvPrefixes maps platform identifiers to their env var prefix.
var platformEnvPrefixes = map[string]string{
	"google_business": "GOOGLE",
	"facebook":        "FACEBOOK",
	"instagram":       "INSTAGRAM",
	"tiktok":          "TIKTOK",
	"linkedin":        "LINKEDIN",
	"twitter":         "TWITTER",
}

var stripePriceKeys = []string{
	"starter_month", "starter_year",
	"growth_month", "growth_year",
	"agency_month", "agency_year",
	"extra_business", "extra_seat",
	"extra_business_year", "extra_seat_year",
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		AppURL:   strings.TrimRight(getEnv("APP_URL", "http://localhost:5173"), "/"),
		APIURL:   strings.TrimRight(getEnv("API_URL", "http://localhost:8080"), "/"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		UseSupabase:        getEnv("USE_SUPABASE", "true") == "true",

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePrices:        make(map[string]string),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		ResendAPIKey:     getEnv("RESEND_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", "hello@getjetsuite.com"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "JetSuite"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		CalcomWebhookSecret: getEnv("CALCOM_WEBHOOK_SECRET", ""),

		CronSecret:  getEnv("CRON_SECRET", ""),
		AdminEmails: getEnvList("ADMIN_EMAILS"),

		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		OAuthClients: make(map[string]OAuthClient),
	}

	for _, key := range stripePriceKeys {
		if v := getEnv("STRIPE_PRICE_"+strings.ToUpper(key), ""); v != "" {
			cfg.StripePrices[key] = v
		}
	}

	for platform, prefix := range platformEnvPrefixes {
		cfg.OAuthClients[platform] = OAuthClient{
			ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
		}
	}

	return cfg
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.UseSupabase && c.SupabaseURL != "" {
		if c.SupabaseServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_SERVICE_ROLE_KEY is required when SUPABASE_URL is set"))
		}
		if c.SupabaseJWTSecret == "" {
			errs = append(errs, errors.New("SUPABASE_JWT_SECRET is required when SUPABASE_URL is set"))
		}
		if c.EncryptionKey == "" {
			errs = append(errs, errors.New("ENCRYPTION_KEY is required when SUPABASE_URL is set"))
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("PORT must be between 1 and 65535"))
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c *Config) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IsAdmin reports whether email belongs to an operator.
func (c *Config) IsAdmin(email string) bool {
	for _, a := range c.AdminEmails {
		if strings.EqualFold(a, email) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
