// Package app wires configuration, infrastructure adapters and services
// into the object graph shared by the API server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/jetsuite/jetsuite-api/internal/config"
	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/handler"
	"github.com/jetsuite/jetsuite-api/internal/infra/cache"
	"github.com/jetsuite/jetsuite-api/internal/infra/client"
	"github.com/jetsuite/jetsuite-api/internal/infra/oauthprovider"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/infra/redisstore"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"
	"github.com/jetsuite/jetsuite-api/internal/infra/supabase"
	"github.com/jetsuite/jetsuite-api/internal/infra/tokencrypt"
	"github.com/jetsuite/jetsuite-api/internal/port"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/resend/resend-go/v2"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

var (
	defaultRedisClient = redisstore.NewClient
	newRedisClient     = defaultRedisClient
)

// App is the fully wired application.
type App struct {
	Config   *config.Config
	Metrics  *observability.Metrics
	Services *handler.Services
	Checks   []handler.HealthCheck

	proxies []netip.Prefix
	closers []func() error
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// New builds every adapter and service from cfg. Optional integrations
// (Redis, Stripe, Resend, Twilio, Gemini) are left out when unconfigured and
// their features answer with ErrNotConfigured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if !cfg.UseSupabase || cfg.SupabaseURL == "" {
		return nil, errors.New("SUPABASE_URL is required: all state lives in Supabase")
	}

	a := &App{Config: cfg, Metrics: observability.NewMetrics()}
	// Release whatever was opened when a later step fails.
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	metrics := a.Metrics


	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	names := []string{"supabase", "stripe", "resend", "twilio", "gemini"}
	for _, p := range domain.Platforms {
		names = append(names, string(p))
	}
	breakers := resilience.NewBreakers(names...)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Storage ---
	db := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		breakers.Get("supabase"),
		resilienceCfg,
		logger,
	)
	a.Checks = append(a.Checks, handler.HealthCheck{Name: "supabase", Ping: db.Ping})

	cipher, err := tokencrypt.New(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token encryption: %w", err)
	}

	// --- OAuth state & rate limiting ---
	var states port.StateStore
	var limiter port.RateLimiter
	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		states = redisstore.NewStateStore(rdb)
		limiter = redisstore.NewRateLimiter(rdb)
		a.Checks = append(a.Checks, handler.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("redis enabled for oauth state and rate limiting")
	} else {
		states = redisstore.NewMemoryStateStore(service.StateTTL)
		limiter = redisstore.NoopLimiter{}
		logger.Warn("REDIS_URL not set: oauth state is kept in memory and rate limiting is disabled")
	}

	// --- Messaging ---
	var email port.EmailSender
	if cfg.ResendAPIKey != "" {
		email = client.NewResendSender(resend.NewClient(cfg.ResendAPIKey), cfg.EmailFromAddress, cfg.EmailFromName, breakers.Get("resend"), resilienceCfg)
	} else {
		logger.Warn("RESEND_API_KEY not set: e-mail disabled")
	}
	var sms port.SMSSender
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		sms = client.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, breakers.Get("twilio"), resilienceCfg)
	} else {
		logger.Warn("twilio not configured: SMS disabled")
	}
	messenger := service.NewMessenger(email, sms, metrics, logger)

	// --- AI ---
	var generator port.TextGenerator
	if cfg.GeminiAPIKey != "" {
		gc, err := client.NewGeminiClient(ctx, cfg.GeminiAPIKey, httpClient)
		if err != nil {
			return nil, err
		}
		generator = client.NewGeminiGenerator(gc, cfg.GeminiModel, breakers.Get("gemini"), resilienceCfg)
	} else {
		logger.Warn("GEMINI_API_KEY not set: AI content disabled")
	}

	// --- Billing ---
	var gateway port.PaymentGateway
	if cfg.StripeSecretKey != "" {
		gateway = client.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret,
			stripe.NewBackends(httpClient), breakers.Get("stripe"), resilienceCfg)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set: checkout and webhooks disabled")
	}
	catalog, err := service.LoadCatalog(cfg.StripePrices)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}

	// --- Social platforms ---
	providers := oauthprovider.NewRegistry(oauthprovider.DefaultSpecs(), cfg.OAuthClients, cfg.APIURL, httpClient, breakers, resilienceCfg)
	for _, p := range domain.Platforms {
		if prov, ok := providers[p]; !ok || !prov.Configured() {
			logger.Info("oauth provider not configured", zap.String("platform", string(p)))
		}
	}
	social := client.NewSocialClient(httpClient, client.DefaultSocialEndpoints(), breakers, resilienceCfg)

	// --- Services ---
	businesses := service.NewBusinessService(db, cache.New[*domain.Business](cfg.CacheTTL), metrics, logger)
	connections := service.NewConnectionService(businesses, db, states, providers, cipher, cfg.AppURL, cfg.MaxConcurrency, metrics, logger)

	// --- HTTP ---
	a.proxies, err = cfg.ProxyPrefixes()
	if err != nil {
		return nil, err
	}

	a.Services = &handler.Services{
		Auth:        service.NewTokenVerifier(cfg.SupabaseJWTSecret),
		Businesses:  businesses,
		Connections: connections,
		Billing:     service.NewBillingService(db, gateway, catalog, businesses, messenger, cfg.AppURL, metrics, logger),
		Leads:       service.NewLeadService(businesses, db, limiter, messenger, cfg.AppURL, metrics, logger),
		Reviews:     service.NewReviewService(businesses, connections, db, social, messenger, metrics, logger),
		Content:     service.NewContentService(businesses, generator, limiter, metrics, logger),
		Publishing:  service.NewPublishingService(businesses, connections, social, db, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger),
		Bookings:    service.NewBookingService(businesses, db, messenger, cfg.CalcomWebhookSecret, metrics, logger),
	}
	return a, nil
}

// RouterOptions returns the non-service router settings.
func (a *App) RouterOptions() handler.Options {
	return handler.Options{
		CronSecret:     a.Config.CronSecret,
		IsAdmin:        a.Config.IsAdmin,
		Checks:         a.Checks,
		TrustedProxies: a.proxies,
	}
}
