package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var connTracer = otel.Tracer("service/connections")

const (
	// StateTTL bounds how long a user has to finish the provider consent screen.
	StateTTL = 10 * time.Minute
	// RefreshSkew refreshes tokens this long before they actually expire.
	RefreshSkew = 5 * time.Minute
	// refreshTimeout bounds a shared refresh once it no longer follows the
	// first caller's context.
	refreshTimeout = 30 * time.Second

	defaultReturnTo = "/dashboard/connections"
)

// ConnectionService runs the social connect flow and hands out fresh access
// tokens for outbound platform calls.
type ConnectionService struct {
	businesses  *BusinessService
	store       port.ConnectionStore
	states      port.StateStore
	providers   map[domain.Platform]port.OAuthProvider
	cipher      port.TokenCipher
	appURL      string
	concurrency int
	refreshes   singleflight.Group
	now         func() time.Time
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewConnectionService creates a new connection service. concurrency bounds
// the refresh sweep.
func NewConnectionService(
	businesses *BusinessService,
	store port.ConnectionStore,
	states port.StateStore,
	providers map[domain.Platform]port.OAuthProvider,
	cipher port.TokenCipher,
	appURL string,
	concurrency int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ConnectionService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ConnectionService{
		businesses:  businesses,
		store:       store,
		states:      states,
		providers:   providers,
		cipher:      cipher,
		appURL:      strings.TrimRight(appURL, "/"),
		concurrency: concurrency,
		now:         time.Now,
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *ConnectionService) provider(p domain.Platform) (port.OAuthProvider, error) {
	prov, ok := s.providers[p]
	if !ok || !prov.Configured() {
		return nil, &domain.ErrNotConfigured{Feature: string(p) + " integration"}
	}
	return prov, nil
}

// ============================================================
// Connect flow
// ============================================================

// StartConnect issues a state and returns the provider consent URL.
func (s *ConnectionService) StartConnect(ctx context.Context, userID, businessID, platform, returnTo string) (*domain.ConnectResponse, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionService.StartConnect")
	defer span.End()
	span.SetAttributes(attribute.String("platform", platform), attribute.String("business.id", businessID))

	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	prov, err := s.provider(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return nil, err
	}
	returnTo, err = sanitizeReturnTo(returnTo)
	if err != nil {
		return nil, err
	}

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	st := &domain.OAuthState{
		State:      state,
		UserID:     userID,
		BusinessID: businessID,
		Platform:   p,
		ReturnTo:   returnTo,
		CreatedAt:  s.now().UTC(),
	}
	if prov.UsesPKCE() {
		st.CodeVerifier = oauth2.GenerateVerifier()
	}
	if err := s.states.Save(ctx, st, StateTTL); err != nil {
		return nil, err
	}

	s.metrics.IncrOAuthEvent(string(p), "started")
	return &domain.ConnectResponse{AuthorizationURL: prov.AuthCodeURL(state, st.CodeVerifier)}, nil
}

// HandleCallback completes the flow and returns where to send the browser.
// It never fails: problems are reported to the front end as an error code.
func (s *ConnectionService) HandleCallback(ctx context.Context, platform, state, code, providerError string) string {
	ctx, span := connTracer.Start(ctx, "ConnectionService.HandleCallback")
	defer span.End()
	span.SetAttributes(attribute.String("platform", platform))

	fail := func(reason string) string {
		s.metrics.IncrOAuthEvent(platform, "callback_"+reason)
		s.logger.Warn("oauth callback failed",
			zap.String("platform", platform),
			zap.String("reason", reason),
		)
		q := url.Values{"error": {reason}, "platform": {platform}}
		return s.appURL + defaultReturnTo + "?" + q.Encode()
	}

	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return fail("invalid_state")
	}
	if providerError != "" {
		if state != "" {
			_, _ = s.states.Consume(ctx, state)
		}
		return fail(providerError)
	}
	if state == "" {
		return fail("invalid_state")
	}
	st, err := s.states.Consume(ctx, state)
	if err != nil || st.Platform != p {
		return fail("invalid_state")
	}
	if code == "" {
		return fail("missing_code")
	}
	prov, err := s.provider(p)
	if err != nil {
		return fail("not_configured")
	}

	tokens, err := prov.Exchange(ctx, code, st.CodeVerifier)
	if err != nil {
		s.metrics.IncrExternalError(string(p))
		s.logger.Error("oauth code exchange failed", zap.String("platform", platform), zap.Error(err))
		return fail("exchange_failed")
	}
	identity, err := prov.Identity(ctx, tokens.AccessToken)
	if err != nil {
		s.metrics.IncrExternalError(string(p))
		s.logger.Error("oauth identity lookup failed", zap.String("platform", platform), zap.Error(err))
		return fail("profile_failed")
	}

	if err := s.saveConnection(ctx, st, tokens, identity); err != nil {
		s.logger.Error("oauth connection save failed", zap.String("platform", platform), zap.Error(err))
		return fail("save_failed")
	}

	s.metrics.IncrOAuthEvent(platform, "connected")
	s.logger.Info("social account connected",
		zap.String("platform", platform),
		zap.String("business_id", st.BusinessID),
		zap.String("platform_user_id", identity.ID),
	)

	sep := "?"
	if strings.Contains(st.ReturnTo, "?") {
		sep = "&"
	}
	return s.appURL + st.ReturnTo + sep + url.Values{"connected": {platform}}.Encode()
}

func (s *ConnectionService) saveConnection(ctx context.Context, st *domain.OAuthState, tokens *domain.TokenSet, identity *domain.PlatformIdentity) error {
	accessEnc, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	// Reconnecting the same account keeps the chosen publishing target.
	metadata := map[string]string{}
	existing, err := s.store.GetConnection(ctx, st.BusinessID, st.Platform)
	if err != nil {
		return err
	}
	if existing != nil && existing.PlatformUserID == identity.ID {
		for k, v := range existing.Metadata {
			if k != domain.MetadataLastRefreshErr {
				metadata[k] = v
			}
		}
	}

	_, err = s.store.UpsertConnection(ctx, &domain.SocialConnection{
		UserID:           st.UserID,
		BusinessID:       st.BusinessID,
		Platform:         st.Platform,
		PlatformUserID:   identity.ID,
		PlatformUsername: identity.Username,
		AccessTokenEnc:   accessEnc,
		RefreshTokenEnc:  refreshEnc,
		ExpiresAt:        tokens.ExpiresAt,
		Scopes:           tokens.Scopes,
		IsActive:         true,
		Metadata:         metadata,
	})
	return err
}

// ============================================================
// Token access & refresh
// ============================================================

// AccessToken returns a usable plaintext token for the business's connection,
// refreshing it first when it expires within RefreshSkew.
func (s *ConnectionService) AccessToken(ctx context.Context, businessID string, platform domain.Platform) (string, *domain.SocialConnection, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionService.AccessToken")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	conn, err := s.store.GetConnection(ctx, businessID, platform)
	if err != nil {
		return "", nil, err
	}
	if conn == nil {
		return "", nil, &domain.ErrNotFound{Resource: "connection", ID: string(platform)}
	}
	if !conn.IsActive {
		return "", nil, &domain.ErrReauthRequired{Platform: platform, Reason: "connection is inactive"}
	}

	if !conn.ExpiresWithin(s.now(), RefreshSkew) {
		token, err := s.cipher.Decrypt(conn.AccessTokenEnc)
		if err != nil {
			return "", nil, fmt.Errorf("decrypt access token: %w", err)
		}
		return token, conn, nil
	}

	res, err := s.refresh(ctx, conn)
	if err != nil {
		return "", nil, err
	}
	return res.token, conn, nil
}

// refreshResult is the token to use after a refresh attempt. fresh is false
// when the provider was not reached or failed and the current token was kept.
type refreshResult struct {
	token string
	fresh bool
}

// refresh rotates conn's tokens. Concurrent refreshes of one connection share
// a single provider call, which is detached from the first caller's
// cancellation so the other waiters are not failed with it.
func (s *ConnectionService) refresh(ctx context.Context, conn *domain.SocialConnection) (*refreshResult, error) {
	v, err, _ := s.refreshes.Do(conn.ID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.doRefresh(rctx, conn)
	})
	if err != nil {
		return nil, err
	}
	return v.(*refreshResult), nil
}

func (s *ConnectionService) doRefresh(ctx context.Context, conn *domain.SocialConnection) (*refreshResult, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionService.Refresh")
	defer span.End()

	// Without a refresh token there is nothing to do until the token is
	// actually about to lapse.
	if conn.RefreshTokenEnc == "" && !conn.ExpiresWithin(s.now(), RefreshSkew) {
		return s.keepCurrent(conn)
	}

	prov, err := s.provider(conn.Platform)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.cipher.Decrypt(conn.RefreshTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	tokens, err := prov.Refresh(ctx, refreshToken)
	if err != nil {
		var reauth *domain.ErrReauthRequired
		if errors.As(err, &reauth) {
			s.deactivate(ctx, conn, reauth.Reason)
			return nil, err
		}
		s.metrics.IncrExternalError(string(conn.Platform))
		// A transient failure is tolerable while the old token still works.
		if conn.ExpiresAt != nil && conn.ExpiresAt.After(s.now()) {
			s.logger.Warn("token refresh failed, using current token",
				zap.String("platform", string(conn.Platform)),
				zap.String("connection_id", conn.ID),
				zap.Error(err),
			)
			return s.keepCurrent(conn)
		}
		return nil, err
	}

	accessEnc, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	updates := map[string]any{
		"access_token_encrypted": accessEnc,
		"expires_at":             tokens.ExpiresAt,
		"is_active":              true,
	}
	if tokens.RefreshToken != "" {
		refreshEnc, err := s.cipher.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
		updates["refresh_token_encrypted"] = refreshEnc
	}
	if len(tokens.Scopes) > 0 {
		updates["scopes"] = tokens.Scopes
	}
	if err := s.store.UpdateConnection(ctx, conn.ID, updates); err != nil {
		return nil, err
	}

	s.metrics.IncrOAuthEvent(string(conn.Platform), "refreshed")
	s.logger.Info("token refreshed",
		zap.String("platform", string(conn.Platform)),
		zap.String("connection_id", conn.ID),
	)
	return &refreshResult{token: tokens.AccessToken, fresh: true}, nil
}

func (s *ConnectionService) keepCurrent(conn *domain.SocialConnection) (*refreshResult, error) {
	token, err := s.cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	return &refreshResult{token: token}, nil
}

func (s *ConnectionService) deactivate(ctx context.Context, conn *domain.SocialConnection, reason string) {
	s.metrics.IncrOAuthEvent(string(conn.Platform), "refresh_failed")
	metadata := make(map[string]string, len(conn.Metadata)+1)
	for k, v := range conn.Metadata {
		metadata[k] = v
	}
	metadata[domain.MetadataLastRefreshErr] = reason

	err := s.store.UpdateConnection(ctx, conn.ID, map[string]any{
		"is_active": false,
		"metadata":  metadata,
	})
	if err != nil {
		s.logger.Error("failed to deactivate connection",
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("connection requires re-authorization",
		zap.String("platform", string(conn.Platform)),
		zap.String("connection_id", conn.ID),
		zap.String("reason", reason),
	)
}

// RefreshExpiring refreshes every active connection that expires within window.
func (s *ConnectionService) RefreshExpiring(ctx context.Context, window time.Duration) (*domain.RefreshSweepResult, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionService.RefreshExpiring")
	defer span.End()

	start := s.now()
	conns, err := s.store.ListExpiringConnections(ctx, start.Add(window))
	if err != nil {
		return nil, err
	}

	var refreshed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range conns {
		conn := &conns[i]
		if conn.RefreshTokenEnc == "" && !conn.ExpiresWithin(start, RefreshSkew) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			res, err := s.refresh(gctx, conn)
			if err == nil && !res.fresh {
				err = errors.New("provider refresh failed, current token kept")
			}
			if err != nil {
				failed.Add(1)
				s.logger.Warn("sweep: refresh failed",
					zap.String("platform", string(conn.Platform)),
					zap.String("connection_id", conn.ID),
					zap.Error(err),
				)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.RefreshSweepResult{
		Scanned:   len(conns),
		Refreshed: int(refreshed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	s.metrics.RecordRequestDuration("refresh_sweep", time.Since(start))
	s.logger.Info("token refresh sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ============================================================
// Connection management
// ============================================================

func (s *ConnectionService) Disconnect(ctx context.Context, userID, businessID, platform string) error {
	ctx, span := connTracer.Start(ctx, "ConnectionService.Disconnect")
	defer span.End()

	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return err
	}
	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return err
	}
	if err := s.store.DeleteConnection(ctx, businessID, p); err != nil {
		return err
	}
	s.metrics.IncrOAuthEvent(platform, "disconnected")
	return nil
}

// ListConnections returns one status per supported platform, in display order.
func (s *ConnectionService) ListConnections(ctx context.Context, userID, businessID string) ([]domain.ConnectionStatus, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionService.ListConnections")
	defer span.End()

	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return nil, err
	}
	conns, err := s.store.ListConnections(ctx, businessID)
	if err != nil {
		return nil, err
	}
	byPlatform := make(map[domain.Platform]*domain.SocialConnection, len(conns))
	for i := range conns {
		byPlatform[conns[i].Platform] = &conns[i]
	}

	now := s.now()
	out := make([]domain.ConnectionStatus, 0, len(domain.Platforms))
	for _, p := range domain.Platforms {
		st := domain.ConnectionStatus{Platform: p}
		if prov, ok := s.providers[p]; ok {
			st.Configured = prov.Configured()
		}
		if c := byPlatform[p]; c != nil {
			expired := c.ExpiresAt != nil && c.ExpiresAt.Before(now)
			st.Connected = c.IsActive
			st.Username = c.PlatformUsername
			st.ExpiresAt = c.ExpiresAt
			st.NeedsReauth = !c.IsActive || (expired && c.RefreshTokenEnc == "")
			if key := domain.TargetKey(p); key != "" {
				st.Target = c.Metadata[key]
			}
			st.Metadata = c.Metadata
		}
		out = append(out, st)
	}
	return out, nil
}

// SetTarget records which page, location or organization a connection
// publishes to, and optionally the business review link.
func (s *ConnectionService) SetTarget(ctx context.Context, userID, businessID, platform string, req *domain.SetTargetRequest) error {
	ctx, span := connTracer.Start(ctx, "ConnectionService.SetTarget")
	defer span.End()

	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return err
	}
	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return err
	}

	key := domain.TargetKey(p)
	target := strings.TrimSpace(req.Target)
	reviewURL := strings.TrimSpace(req.ReviewURL)
	if target == "" && reviewURL == "" {
		return &domain.ErrValidation{Field: "target", Message: "required"}
	}
	if target != "" && key == "" {
		return &domain.ErrValidation{Field: "target", Message: string(p) + " publishes as the connected account"}
	}
	if reviewURL != "" {
		if p != domain.PlatformGoogleBusiness {
			return &domain.ErrValidation{Field: "review_url", Message: "only supported for google_business"}
		}
		u, err := url.Parse(reviewURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return &domain.ErrValidation{Field: "review_url", Message: "must be an https URL"}
		}
	}

	conn, err := s.store.GetConnection(ctx, businessID, p)
	if err != nil {
		return err
	}
	if conn == nil {
		return &domain.ErrNotFound{Resource: "connection", ID: platform}
	}

	metadata := make(map[string]string, len(conn.Metadata)+2)
	for k, v := range conn.Metadata {
		metadata[k] = v
	}
	if target != "" {
		metadata[key] = target
	}
	if reviewURL != "" {
		metadata[domain.MetadataReviewURL] = reviewURL
	}
	return s.store.UpdateConnection(ctx, conn.ID, map[string]any{"metadata": metadata})
}

// ReviewURL returns the review link stored on the Google connection, if any.
func (s *ConnectionService) ReviewURL(ctx context.Context, businessID string) string {
	conn, err := s.store.GetConnection(ctx, businessID, domain.PlatformGoogleBusiness)
	if err != nil || conn == nil {
		return ""
	}
	return conn.Metadata[domain.MetadataReviewURL]
}

// ============================================================
// Helpers
// ============================================================

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// sanitizeReturnTo only allows same-origin relative paths.
func sanitizeReturnTo(returnTo string) (string, error) {
	if returnTo == "" {
		return defaultReturnTo, nil
	}
	if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") || strings.ContainsAny(returnTo, "\\\r\n") {
		return "", &domain.ErrValidation{Field: "return_to", Message: "must be a relative path starting with /"}
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", &domain.ErrValidation{Field: "return_to", Message: "must be a relative path starting with /"}
	}
	return returnTo, nil
}
