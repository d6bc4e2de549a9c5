package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/cache"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/infra/tokencrypt"
	"github.com/jetsuite/jetsuite-api/internal/port"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"go.uber.org/zap"
)

// --- Stores ---

type mockBusinessStore struct {
	mu         sync.Mutex
	businesses map[string]*domain.Business
	gets       int
}

func newBusinessStore(bs ...*domain.Business) *mockBusinessStore {
	m := &mockBusinessStore{businesses: map[string]*domain.Business{}}
	for _, b := range bs {
		m.businesses[b.ID] = b
	}
	return m
}

func (m *mockBusinessStore) GetBusiness(_ context.Context, id string) (*domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	b, ok := m.businesses[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockBusinessStore) ListBusinesses(_ context.Context, ownerID string) ([]domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Business
	for _, b := range m.businesses {
		if b.OwnerID == ownerID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBusinessStore) CreateBusiness(_ context.Context, b *domain.Business) (*domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.ID = "biz-" + strconv.Itoa(len(m.businesses)+1)
	m.businesses[cp.ID] = &cp
	return &cp, nil
}

func (m *mockBusinessStore) UpdateBusiness(_ context.Context, id string, updates map[string]any) (*domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "business", ID: id}
	}
	if v, ok := updates["name"].(string); ok {
		b.Name = v
	}
	if v, ok := updates["phone"].(string); ok {
		b.Phone = v
	}
	cp := *b
	return &cp, nil
}

type mockConnectionStore struct {
	mu      sync.Mutex
	conns   map[string]*domain.SocialConnection // key: business|platform
	updates []map[string]any
	getErr  error
	nextID  int
}

func newConnectionStore() *mockConnectionStore {
	return &mockConnectionStore{conns: map[string]*domain.SocialConnection{}}
}

func connKey(businessID string, p domain.Platform) string { return businessID + "|" + string(p) }

func (m *mockConnectionStore) put(c *domain.SocialConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		m.nextID++
		c.ID = "conn-" + strconv.Itoa(m.nextID)
	}
	m.conns[connKey(c.BusinessID, c.Platform)] = c
}

func (m *mockConnectionStore) get(businessID string, p domain.Platform) *domain.SocialConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[connKey(businessID, p)]
}

func (m *mockConnectionStore) GetConnection(_ context.Context, businessID string, p domain.Platform) (*domain.SocialConnection, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connKey(businessID, p)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockConnectionStore) ListConnections(_ context.Context, businessID string) ([]domain.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SocialConnection
	for _, c := range m.conns {
		if c.BusinessID == businessID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockConnectionStore) ListExpiringConnections(_ context.Context, before time.Time) ([]domain.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SocialConnection
	for _, c := range m.conns {
		if c.IsActive && c.ExpiresAt != nil && c.ExpiresAt.Before(before) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockConnectionStore) UpsertConnection(_ context.Context, c *domain.SocialConnection) (*domain.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	if old, ok := m.conns[connKey(c.BusinessID, c.Platform)]; ok {
		cp.ID = old.ID
	} else {
		m.nextID++
		cp.ID = "conn-" + strconv.Itoa(m.nextID)
	}
	m.conns[connKey(c.BusinessID, c.Platform)] = &cp
	return &cp, nil
}

func (m *mockConnectionStore) UpdateConnection(_ context.Context, id string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, updates)
	for _, c := range m.conns {
		if c.ID != id {
			continue
		}
		if v, ok := updates["access_token_encrypted"].(string); ok {
			c.AccessTokenEnc = v
		}
		if v, ok := updates["refresh_token_encrypted"].(string); ok {
			c.RefreshTokenEnc = v
		}
		if v, ok := updates["expires_at"].(*time.Time); ok {
			c.ExpiresAt = v
		}
		if v, ok := updates["is_active"].(bool); ok {
			c.IsActive = v
		}
		if v, ok := updates["metadata"].(map[string]string); ok {
			c.Metadata = v
		}
		return nil
	}
	return &domain.ErrNotFound{Resource: "connection", ID: id}
}

func (m *mockConnectionStore) DeleteConnection(_ context.Context, businessID string, p domain.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := connKey(businessID, p)
	if _, ok := m.conns[k]; !ok {
		return &domain.ErrNotFound{Resource: "connection", ID: string(p)}
	}
	delete(m.conns, k)
	return nil
}

type mockBillingStore struct {
	mu        sync.Mutex
	subs      map[string]*domain.Subscription // key: stripe subscription id
	customers map[string]*domain.StripeCustomer
	events    map[string]bool
	released  []string
	upsertErr error
}

func newBillingStore() *mockBillingStore {
	return &mockBillingStore{
		subs:      map[string]*domain.Subscription{},
		customers: map[string]*domain.StripeCustomer{},
		events:    map[string]bool{},
	}
}

func (m *mockBillingStore) GetSubscriptionByUser(_ context.Context, userID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockBillingStore) ListSubscriptions(context.Context) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.subs {
		out = append(out, *s)
	}
	return out, nil
}

func (m *mockBillingStore) UpsertSubscription(_ context.Context, s *domain.Subscription) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.StripeSubscriptionID] = &cp
	return nil
}

func (m *mockBillingStore) UpdateSubscriptionStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		s.Status = status
	}
	return nil
}

func (m *mockBillingStore) GetStripeCustomer(_ context.Context, userID string) (*domain.StripeCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customers[userID], nil
}

func (m *mockBillingStore) GetStripeCustomerByStripeID(_ context.Context, id string) (*domain.StripeCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.StripeCustomerID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockBillingStore) SaveStripeCustomer(_ context.Context, c *domain.StripeCustomer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.UserID] = c
	return nil
}

func (m *mockBillingStore) MarkWebhookProcessed(_ context.Context, source, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := source + ":" + id
	if m.events[k] {
		return false, nil
	}
	m.events[k] = true
	return true, nil
}

func (m *mockBillingStore) ReleaseWebhook(_ context.Context, source, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, source+":"+id)
	m.released = append(m.released, id)
	return nil
}

type mockEngagementStore struct {
	mu           sync.Mutex
	leads        []domain.Lead
	requests     []domain.ReviewRequest
	posts        []domain.Post
	appointments map[string]domain.Appointment
	lastPage     domain.Pagination
	listFrom     time.Time
}

func newEngagementStore() *mockEngagementStore {
	return &mockEngagementStore{appointments: map[string]domain.Appointment{}}
}

func (m *mockEngagementStore) CreateLead(_ context.Context, l *domain.Lead) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	cp.ID = "lead-" + strconv.Itoa(len(m.leads)+1)
	m.leads = append(m.leads, cp)
	return &cp, nil
}

func (m *mockEngagementStore) ListLeads(_ context.Context, _ string, p domain.Pagination) ([]domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage = p
	return m.leads, nil
}

func (m *mockEngagementStore) CreateReviewRequest(_ context.Context, rr *domain.ReviewRequest) (*domain.ReviewRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rr
	cp.ID = "rr-" + strconv.Itoa(len(m.requests)+1)
	m.requests = append(m.requests, cp)
	return &cp, nil
}

func (m *mockEngagementStore) CreatePost(_ context.Context, p *domain.Post) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.ID = "post-" + strconv.Itoa(len(m.posts)+1)
	m.posts = append(m.posts, cp)
	return &cp, nil
}

func (m *mockEngagementStore) UpsertAppointment(_ context.Context, a *domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.BookingUID] = *a
	return nil
}

func (m *mockEngagementStore) ListAppointments(_ context.Context, _ string, from time.Time) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFrom = from
	var out []domain.Appointment
	for _, a := range m.appointments {
		out = append(out, a)
	}
	return out, nil
}

// --- Ephemeral state ---

type mockLimiter struct {
	allow      bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (m *mockLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, time.Duration, error) {
	m.keys = append(m.keys, key)
	return m.allow, m.retryAfter, m.err
}

// --- Vendors ---

type mockProvider struct {
	platform     domain.Platform
	configured   bool
	pkce         bool
	tokens       *domain.TokenSet
	exchangeErr  error
	refreshed    *domain.TokenSet
	refreshErr   error
	identity     *domain.PlatformIdentity
	identityErr  error
	mu           sync.Mutex
	refreshCalls int
	gotVerifier  string
	refreshDelay time.Duration
}

func (m *mockProvider) Platform() domain.Platform { return m.platform }
func (m *mockProvider) Configured() bool          { return m.configured }
func (m *mockProvider) UsesPKCE() bool            { return m.pkce }

func (m *mockProvider) AuthCodeURL(state, verifier string) string {
	u := "https://provider.example/auth?state=" + state
	if verifier != "" {
		u += "&code_challenge=set"
	}
	return u
}

func (m *mockProvider) Exchange(_ context.Context, _ string, verifier string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.gotVerifier = verifier
	m.mu.Unlock()
	return m.tokens, m.exchangeErr
}

func (m *mockProvider) Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.refreshCalls++
	m.mu.Unlock()
	if refreshToken == "" {
		return nil, &domain.ErrReauthRequired{Platform: m.platform, Reason: "no refresh token"}
	}
	if m.refreshDelay > 0 {
		select {
		case <-time.After(m.refreshDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.refreshed, m.refreshErr
}

func (m *mockProvider) Identity(context.Context, string) (*domain.PlatformIdentity, error) {
	return m.identity, m.identityErr
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

type mockEmail struct {
	mu   sync.Mutex
	sent []*port.Email
	err  error
}

func (m *mockEmail) SendEmail(_ context.Context, msg *port.Email) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "email-" + strconv.Itoa(len(m.sent)), nil
}

func (m *mockEmail) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type sentSMS struct{ to, body string }

type mockSMS struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (m *mockSMS) SendSMS(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentSMS{to, body})
	return "SM" + strconv.Itoa(len(m.sent)), nil
}

func (m *mockSMS) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockGenerator struct {
	out    *domain.GeneratedText
	err    error
	system string
	turns  []domain.ChatTurn
}

func (m *mockGenerator) Generate(_ context.Context, system string, turns []domain.ChatTurn) (*domain.GeneratedText, error) {
	m.system, m.turns = system, turns
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.out
	return &cp, nil
}

type mockPublisher struct {
	mu    sync.Mutex
	ids   map[domain.Platform]string
	errs  map[domain.Platform]error
	calls []domain.Platform
}

func (m *mockPublisher) Publish(_ context.Context, p domain.Platform, _ string, _ *domain.SocialConnection, _ *domain.PublishRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	if err := m.errs[p]; err != nil {
		return "", err
	}
	return m.ids[p], nil
}

type mockReviews struct {
	reviews     []domain.Review
	err         error
	gotToken    string
	gotLocation string
	repliedID   string
	repliedText string
}

func (m *mockReviews) ListReviews(_ context.Context, token, location string) ([]domain.Review, error) {
	m.gotToken, m.gotLocation = token, location
	return m.reviews, m.err
}

func (m *mockReviews) ReplyToReview(_ context.Context, token, location, reviewID, comment string) error {
	m.gotToken, m.gotLocation = token, location
	m.repliedID, m.repliedText = reviewID, comment
	return m.err
}

type mockGateway struct {
	event       *port.WebhookEvent
	parseErr    error
	checkout    *port.CheckoutParams
	portalFor   string
	checkoutErr error
}

func (m *mockGateway) CreateCheckoutSession(_ context.Context, p *port.CheckoutParams) (*domain.CheckoutResponse, error) {
	m.checkout = p
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	return &domain.CheckoutResponse{URL: "https://checkout.stripe.com/c/cs_test_1", SessionID: "cs_test_1"}, nil
}

func (m *mockGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	m.portalFor = customerID
	return "https://billing.stripe.com/p/session_1", nil
}

func (m *mockGateway) ParseWebhook([]byte, string) (*port.WebhookEvent, error) {
	return m.event, m.parseErr
}

// --- Fixtures ---

const (
	ownerID    = "user-1"
	businessID = "biz-1"
	testKey    = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

var errBoom = errors.New("boom")

func testBusiness() *domain.Business {
	return &domain.Business{
		ID:       businessID,
		OwnerID:  ownerID,
		Name:     "Sunrise Bakery",
		Industry: "bakery",
		City:     "Austin",
		Phone:    "+15125550100",
		Email:    "owner@sunrise.example",
		Timezone: "America/Chicago",
	}
}

func newBusinessService(store port.BusinessStore) *service.BusinessService {
	return service.NewBusinessService(store, cache.New[*domain.Business](time.Minute), observability.NewMetrics(), zap.NewNop())
}

func newCipher() *tokencrypt.Cipher {
	c, err := tokencrypt.New(testKey)
	if err != nil {
		panic(err)
	}
	return c
}

func newMessenger(email port.EmailSender, sms port.SMSSender) *service.Messenger {
	return service.NewMessenger(email, sms, observability.NewMetrics(), zap.NewNop())
}

func ptrTime(t time.Time) *time.Time { return &t }
