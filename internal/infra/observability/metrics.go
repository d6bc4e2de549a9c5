package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	aiTokens        *prometheus.CounterVec
	oauthEvents     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	messagesSent    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jetsuite_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		aiTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_ai_tokens_total",
				Help: "Total Gemini tokens consumed.",
			},
			[]string{"type"},
		),
		oauthEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_oauth_events_total",
				Help: "OAuth connect/refresh outcomes by platform.",
			},
			[]string{"platform", "event"},
		),
		webhooks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_webhooks_total",
				Help: "Inbound webhooks by source and event type.",
			},
			[]string{"source", "event"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetsuite_messages_sent_total",
				Help: "Outbound e-mail and SMS by channel and result.",
			},
			[]string{"channel", "status"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.aiTokens.WithLabelValues("prompt").Add(float64(prompt))
	m.aiTokens.WithLabelValues("completion").Add(float64(completion))
}

// IncrOAuthEvent counts connect, refresh and disconnect outcomes.
func (m *Metrics) IncrOAuthEvent(platform, event string) {
	m.oauthEvents.WithLabelValues(platform, event).Inc()
}

// IncrWebhook counts an inbound webhook.
func (m *Metrics) IncrWebhook(source, event string) {
	m.webhooks.WithLabelValues(source, event).Inc()
}

// IncrMessage counts an outbound message attempt.
func (m *Metrics) IncrMessage(channel, status string) {
	m.messagesSent.WithLabelValues(channel, status).Inc()
}

// UsageSnapshot is a JSON-friendly view of the business counters.
type UsageSnapshot struct {
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	EmailsSent       int64            `json:"emails_sent"`
	EmailsFailed     int64            `json:"emails_failed"`
	SMSSent          int64            `json:"sms_sent"`
	SMSFailed        int64            `json:"sms_failed"`
	OAuthConnected   map[string]int64 `json:"oauth_connected"`
	OAuthRefreshFail map[string]int64 `json:"oauth_refresh_failed"`
}

// Snapshot reads the current counter values for the admin usage endpoint.
func (m *Metrics) Snapshot(platforms []string) *UsageSnapshot {
	s := &UsageSnapshot{
		PromptTokens:     int64(counterValue(m.aiTokens, "prompt")),
		CompletionTokens: int64(counterValue(m.aiTokens, "completion")),
		EmailsSent:       int64(counterValue(m.messagesSent, "email", "sent")),
		EmailsFailed:     int64(counterValue(m.messagesSent, "email", "failed")),
		SMSSent:          int64(counterValue(m.messagesSent, "sms", "sent")),
		SMSFailed:        int64(counterValue(m.messagesSent, "sms", "failed")),
		OAuthConnected:   make(map[string]int64, len(platforms)),
		OAuthRefreshFail: make(map[string]int64, len(platforms)),
	}
	for _, p := range platforms {
		s.OAuthConnected[p] = int64(counterValue(m.oauthEvents, p, "connected"))
		s.OAuthRefreshFail[p] = int64(counterValue(m.oauthEvents, p, "refresh_failed"))
	}
	return s
}

// counterValue extracts the current value from a CounterVec for the given labels.
func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
