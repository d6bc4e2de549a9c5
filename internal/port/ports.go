// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// ============================================================
// Persistence (Supabase)
// ============================================================

// BusinessStore reads and writes tenant records.
type BusinessStore interface {
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
	ListBusinesses(ctx context.Context, ownerID string) ([]domain.Business, error)
	CreateBusiness(ctx context.Context, b *domain.Business) (*domain.Business, error)
	UpdateBusiness(ctx context.Context, businessID string, updates map[string]any) (*domain.Business, error)
}

// ConnectionStore persists encrypted social connections.
type ConnectionStore interface {
	GetConnection(ctx context.Context, businessID string, platform domain.Platform) (*domain.SocialConnection, error)
	ListConnections(ctx context.Context, businessID string) ([]domain.SocialConnection, error)
	ListExpiringConnections(ctx context.Context, before time.Time) ([]domain.SocialConnection, error)
	UpsertConnection(ctx context.Context, conn *domain.SocialConnection) (*domain.SocialConnection, error)
	UpdateConnection(ctx context.Context, connectionID string, updates map[string]any) error
	DeleteConnection(ctx context.Context, businessID string, platform domain.Platform) error
}

// BillingStore persists subscriptions and Stripe bookkeeping.
type BillingStore interface {
	GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
	UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string) error
	GetStripeCustomer(ctx context.Context, userID string) (*domain.StripeCustomer, error)
	GetStripeCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*domain.StripeCustomer, error)
	SaveStripeCustomer(ctx context.Context, c *domain.StripeCustomer) error
	// MarkWebhookProcessed records an event id; it returns false when the
	// id was already recorded.
	MarkWebhookProcessed(ctx context.Context, source, eventID, eventType string) (bool, error)
	// ReleaseWebhook forgets an event id so a redelivery is processed again.
	ReleaseWebhook(ctx context.Context, source, eventID string) error
}

// EngagementStore persists leads, review requests, posts and appointments.
type EngagementStore interface {
	CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
	ListLeads(ctx context.Context, businessID string, p domain.Pagination) ([]domain.Lead, error)
	CreateReviewRequest(ctx context.Context, rr *domain.ReviewRequest) (*domain.ReviewRequest, error)
	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	UpsertAppointment(ctx context.Context, a *domain.Appointment) error
	ListAppointments(ctx context.Context, businessID string, from time.Time) ([]domain.Appointment, error)
}

// ============================================================
// Ephemeral state (Redis / in-memory)
// ============================================================

// StateStore keeps pending OAuth states. Consume must be atomic: a state can
// be returned at most once.
type StateStore interface {
	Save(ctx context.Context, st *domain.OAuthState, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*domain.OAuthState, error)
}

// RateLimiter is a fixed-window request counter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// TokenCipher encrypts OAuth tokens at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
}

// ============================================================
// Vendors
// ============================================================

// OAuthProvider performs the provider half of the connect flow for one platform.
type OAuthProvider interface {
	Platform() domain.Platform
	Configured() bool
	AuthCodeURL(state, codeVerifier string) string
	UsesPKCE() bool
	Exchange(ctx context.Context, code, codeVerifier string) (*domain.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error)
	Identity(ctx context.Context, accessToken string) (*domain.PlatformIdentity, error)
}

// Publisher posts content to one platform on behalf of a connection.
type Publisher interface {
	Publish(ctx context.Context, platform domain.Platform, accessToken string, conn *domain.SocialConnection, req *domain.PublishRequest) (string, error)
}

// ReviewsClient proxies the Google Business Profile reviews API.
type ReviewsClient interface {
	ListReviews(ctx context.Context, accessToken, locationName string) ([]domain.Review, error)
	ReplyToReview(ctx context.Context, accessToken, locationName, reviewID, comment string) error
}

// Email is one outbound e-mail.
type Email struct {
	To      []string
	Subject string
	HTML    string
	ReplyTo string
	Tags    map[string]string
}

// EmailSender delivers e-mail.
type EmailSender interface {
	SendEmail(ctx context.Context, msg *Email) (string, error)
}

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// TextGenerator produces model output for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, systemInstruction string, turns []domain.ChatTurn) (*domain.GeneratedText, error)
}

// CheckoutParams describes a Stripe hosted checkout.
type CheckoutParams struct {
	CustomerID    string
	CustomerEmail string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	ReferenceID   string
	Metadata      map[string]string
}

// LineItem is a Stripe price and quantity.
type LineItem struct {
	PriceID  string
	Quantity int64
}

// PaymentGateway is the Stripe surface the billing service uses.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, p *CheckoutParams) (*domain.CheckoutResponse, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// WebhookEvent is a verified Stripe event reduced to what billing needs.
type WebhookEvent struct {
	ID           string
	Type         string
	Checkout     *CheckoutCompleted
	Subscription *SubscriptionChange
	Invoice      *InvoiceFailed
}

// CheckoutCompleted is the payload of checkout.session.completed.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	ReferenceID    string
	Metadata       map[string]string
}

// SubscriptionChange is the payload of customer.subscription.*.
type SubscriptionChange struct {
	SubscriptionID    string
	CustomerID        string
	Status            string
	Interval          domain.Interval
	AmountCents       int64
	Items             []LineItem
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

// InvoiceFailed is the payload of invoice.payment_failed.
type InvoiceFailed struct {
	InvoiceID      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	AmountDueCents int64
	HostedURL      string
}
