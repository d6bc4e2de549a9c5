package handler

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("handler")

func userIDAttr(id string) attribute.KeyValue { return attribute.String("user.id", id) }

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Auth        *service.TokenVerifier
	Businesses  *service.BusinessService
	Connections *service.ConnectionService
	Billing     *service.BillingService
	Leads       *service.LeadService
	Reviews     *service.ReviewService
	Content     *service.ContentService
	Publishing  *service.PublishingService
	Bookings    *service.BookingService
}

// HealthCheck is one dependency probed by /healthz and /readyz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Options carries the router settings that are not services.
type Options struct {
	CronSecret     string
	IsAdmin        func(email string) bool
	Checks         []HealthCheck
	TrustedProxies []netip.Prefix
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *Services, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(RealIPMiddleware(opts.TrustedProxies))
	r.Use(observability.TracingMiddleware)
	r.Use(observability.RequestLogger(logger, metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.Checks))
	r.Get("/readyz", readyzHandler(opts.Checks))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	isAdmin := opts.IsAdmin
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Public widget endpoints (no auth, rate limited)
		// =============================================
		r.Route("/public/businesses/{businessId}", func(r chi.Router) {
			r.Post("/leads", submitLeadHandler(svc.Leads, logger))
			r.Post("/chat", chatHandler(svc.Content, logger))
		})

		// =============================================
		// 2. OAuth provider callback (browser redirect)
		// =============================================
		r.Get("/oauth/{platform}/callback", oauthCallbackHandler(svc.Connections, logger))

		// =============================================
		// 3. Inbound webhooks (signature verified)
		// =============================================
		r.Post("/webhooks/stripe", stripeWebhookHandler(svc.Billing, logger))
		r.Post("/webhooks/calcom/{businessId}", calcomWebhookHandler(svc.Bookings, logger))

		// =============================================
		// 4. Billing catalog (public)
		// =============================================
		r.Get("/billing/plans", listPlansHandler(svc.Billing))
		r.Post("/billing/quote", quoteHandler(svc.Billing, logger))

		// =============================================
		// 5. Scheduler
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(CronAuthMiddleware(opts.CronSecret, logger))
			r.Post("/internal/cron/refresh-tokens", refreshTokensHandler(svc.Connections, logger))
		})

		// =============================================
		// 6. Authenticated app
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svc.Auth, logger))

			r.Get("/me", meHandler(isAdmin))

			r.Post("/billing/checkout", checkoutHandler(svc.Billing, logger))
			r.Post("/billing/portal", portalHandler(svc.Billing, logger))
			r.Get("/billing/subscription", subscriptionHandler(svc.Billing, logger))

			r.Get("/businesses", listBusinessesHandler(svc.Businesses, logger))
			r.Post("/businesses", createBusinessHandler(svc.Businesses, logger))

			r.Route("/businesses/{businessId}", func(r chi.Router) {
				r.Get("/", getBusinessHandler(svc.Businesses, logger))
				r.Patch("/", updateBusinessHandler(svc.Businesses, logger))

				// Social connections
				r.Get("/connections", listConnectionsHandler(svc.Connections, logger))
				r.Post("/connections/{platform}/connect", startConnectHandler(svc.Connections, logger))
				r.Put("/connections/{platform}/target", setTargetHandler(svc.Connections, logger))
				r.Delete("/connections/{platform}", disconnectHandler(svc.Connections, logger))

				// Engagement
				r.Get("/leads", listLeadsHandler(svc.Leads, logger))
				r.Post("/review-requests", reviewRequestHandler(svc.Reviews, logger))
				r.Get("/appointments", listAppointmentsHandler(svc.Bookings, logger))

				// Content & publishing
				r.Post("/content/post", generatePostHandler(svc.Content, logger))
				r.Post("/content/review-reply", generateReviewReplyHandler(svc.Content, logger))
				r.Post("/posts", publishHandler(svc.Publishing, logger))
				r.Get("/reviews", listReviewsHandler(svc.Reviews, logger))
				r.Put("/reviews/{reviewId}/reply", replyReviewHandler(svc.Reviews, logger))
			})

			// =============================================
			// 7. Admin
			// =============================================
			r.Route("/admin", func(r chi.Router) {
				r.Use(AdminMiddleware(isAdmin, logger))
				r.Get("/revenue", revenueHandler(svc.Billing, logger))
				r.Get("/usage", usageHandler(metrics))
			})
		})
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

const healthCheckTimeout = 3 * time.Second

// probe runs every check concurrently and aggregates the result.
func probe(ctx context.Context, checks []HealthCheck) domain.HealthStatus {
	now := time.Now().UTC().Format(time.RFC3339)
	services := make([]domain.ComponentHealth, len(checks)+1)
	services[0] = domain.ComponentHealth{Name: "jetsuite-api", Status: "healthy", LastChecked: now}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			start := time.Now()
			err := c.Ping(ctx)
			h := domain.ComponentHealth{
				Name:        c.Name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				h.Status = "unhealthy"
				h.Error = err.Error()
			}
			services[i+1] = h
			return nil
		})
	}
	_ = g.Wait()

	overall := "healthy"
	for _, s := range services {
		if s.Status == "unhealthy" {
			overall = "degraded"
		}
	}
	return domain.HealthStatus{Status: overall, Services: services}
}

// healthzHandler is the liveness probe: always 200, reporting dependency health.
func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, probe(r.Context(), checks))
	}
}

// readyzHandler fails with 503 while any dependency is unreachable.
func readyzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := probe(r.Context(), checks)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func meHandler(isAdmin func(string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       user.ID,
			"email":    user.Email,
			"is_admin": user.Email != "" && isAdmin(user.Email),
		})
	}
}

func usageHandler(metrics *observability.Metrics) http.HandlerFunc {
	platforms := make([]string, len(domain.Platforms))
	for i, p := range domain.Platforms {
		platforms[i] = string(p)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot(platforms))
	}
}
