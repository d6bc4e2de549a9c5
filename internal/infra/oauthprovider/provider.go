// Package oauthprovider implements the provider side of the social connect
// flow on top of golang.org/x/oauth2: authorize URLs, code exchange, token
// refresh and identity lookup for each platform.
package oauthprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/config"
	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("oauthprovider")

// Provider is one configured platform.
type Provider struct {
	spec         Spec
	conf         *oauth2.Config
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cb           *gobreaker.CircuitBreaker
	cfg          resilience.Config
}

// New creates a provider. redirectURL must match the URL registered with the platform.
func New(spec Spec, creds config.OAuthClient, redirectURL string, httpClient *http.Client, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Provider {
	return &Provider{
		spec: spec,
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     spec.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       spec.Scopes,
		},
		clientID:     creds.ClientID,
		clientSecret: creds.ClientSecret,
		httpClient:   httpClient,
		cb:           cb,
		cfg:          cfg,
	}
}

// NewRegistry builds a provider for every spec. Platforms without credentials
// are included and report Configured() == false.
func NewRegistry(specs map[domain.Platform]Spec, clients map[string]config.OAuthClient, apiURL string, httpClient *http.Client, breakers *resilience.Breakers, cfg resilience.Config) map[domain.Platform]port.OAuthProvider {
	registry := make(map[domain.Platform]port.OAuthProvider, len(specs))
	for platform, spec := range specs {
		redirect := fmt.Sprintf("%s/v1/oauth/%s/callback", strings.TrimRight(apiURL, "/"), platform)
		registry[platform] = New(spec, clients[string(platform)], redirect, httpClient, breakers.Get(string(platform)), cfg)
	}
	return registry
}

func (p *Provider) Platform() domain.Platform { return p.spec.Platform }

func (p *Provider) Configured() bool { return p.clientID != "" && p.clientSecret != "" }

func (p *Provider) UsesPKCE() bool { return p.spec.PKCE }

// AuthCodeURL returns the consent page URL for state.
func (p *Provider) AuthCodeURL(state, codeVerifier string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(p.spec.AuthQuery)+3)
	for k, v := range p.spec.AuthQuery {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if p.spec.ClientIDParam != "" {
		opts = append(opts, oauth2.SetAuthURLParam(p.spec.ClientIDParam, p.clientID))
	}
	if p.spec.ScopeSeparator != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(p.spec.Scopes, p.spec.ScopeSeparator)))
	}
	if p.spec.PKCE && codeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(codeVerifier))
	}
	return p.conf.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens. Meta platforms get their
// short-lived token swapped for a long-lived one.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (*domain.TokenSet, error) {
	ctx, span := tracer.Start(ctx, "OAuthProvider.Exchange")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(p.spec.Platform)))

	var opts []oauth2.AuthCodeOption
	if p.spec.ClientIDParam != "" {
		opts = append(opts, oauth2.SetAuthURLParam(p.spec.ClientIDParam, p.clientID))
	}
	if p.spec.PKCE {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	// Codes are single use, so the exchange itself is never retried.
	once := p.cfg
	once.MaxRetries = 0

	var tok *oauth2.Token
	err := resilience.Execute(ctx, p.cb, once, func() error {
		t, err := p.conf.Exchange(p.withClient(ctx), code, opts...)
		if err != nil {
			return classify(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, p.externalErr(err)
	}

	ts := toTokenSet(tok)
	if p.spec.LongLivedURL != "" {
		long, err := p.exchangeLongLived(ctx, ts.AccessToken)
		if err != nil {
			return nil, err
		}
		long.Scopes = ts.Scopes
		return long, nil
	}
	return ts, nil
}

// Refresh uses a refresh token to mint a new access token. A rejected
// refresh token yields ErrReauthRequired.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	ctx, span := tracer.Start(ctx, "OAuthProvider.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(p.spec.Platform)))

	if refreshToken == "" {
		return nil, &domain.ErrReauthRequired{Platform: p.spec.Platform, Reason: "no refresh token"}
	}
	if p.spec.RefreshURL != "" {
		return p.refreshForm(ctx, refreshToken)
	}

	var tok *oauth2.Token
	err := resilience.Execute(ctx, p.cb, p.cfg, func() error {
		src := p.conf.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
		t, err := src.Token()
		if err != nil {
			return classify(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		if rejected(err) {
			return nil, &domain.ErrReauthRequired{Platform: p.spec.Platform, Reason: "refresh token rejected"}
		}
		return nil, p.externalErr(err)
	}
	return toTokenSet(tok), nil
}

// Identity fetches the platform account behind accessToken.
func (p *Provider) Identity(ctx context.Context, accessToken string) (*domain.PlatformIdentity, error) {
	ctx, span := tracer.Start(ctx, "OAuthProvider.Identity")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(p.spec.Platform)))

	body, err := p.fetch(ctx, http.MethodGet, p.spec.IdentityURL, nil, accessToken)
	if err != nil {
		return nil, p.externalErr(err)
	}
	id, err := p.spec.ParseIdentity(body)
	if err != nil {
		return nil, p.externalErr(err)
	}
	return id, nil
}

// ============================================================
// Non-standard token calls
// ============================================================

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (t *tokenResponse) tokenSet() *domain.TokenSet {
	ts := &domain.TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Scopes:       splitScopes(t.Scope),
	}
	if t.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
		ts.ExpiresAt = &exp
	}
	return ts
}

func (p *Provider) exchangeLongLived(ctx context.Context, shortLived string) (*domain.TokenSet, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", p.clientID)
	q.Set("client_secret", p.clientSecret)
	q.Set("fb_exchange_token", shortLived)

	body, err := p.fetch(ctx, http.MethodGet, p.spec.LongLivedURL+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, p.externalErr(err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, p.externalErr(fmt.Errorf("decode long-lived token: %w", err))
	}
	if tr.AccessToken == "" {
		return nil, p.externalErr(fmt.Errorf("long-lived exchange: %s", tr.Error))
	}
	return tr.tokenSet(), nil
}

func (p *Provider) refreshForm(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	idParam := p.spec.ClientIDParam
	if idParam == "" {
		idParam = "client_id"
	}
	form := url.Values{}
	form.Set(idParam, p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	body, err := p.fetch(ctx, http.MethodPost, p.spec.RefreshURL, form, "")
	if err != nil {
		if rejected(err) {
			return nil, &domain.ErrReauthRequired{Platform: p.spec.Platform, Reason: "refresh token rejected"}
		}
		return nil, p.externalErr(err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, p.externalErr(fmt.Errorf("decode refresh response: %w", err))
	}
	if tr.Error != "" || tr.AccessToken == "" {
		return nil, &domain.ErrReauthRequired{Platform: p.spec.Platform, Reason: "refresh token rejected: " + tr.Error}
	}
	return tr.tokenSet(), nil
}

// ============================================================
// HTTP plumbing
// ============================================================

// statusError is a non-2xx provider response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

func (p *Provider) fetch(ctx context.Context, method, endpoint string, form url.Values, bearer string) ([]byte, error) {
	var body []byte
	err := resilience.Execute(ctx, p.cb, p.cfg, func() error {
		var reader io.Reader
		if form != nil {
			reader = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return resilience.Permanent(err)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			serr := &statusError{Status: resp.StatusCode, Body: string(b)}
			if !retryable(resp.StatusCode) {
				return resilience.Permanent(serr)
			}
			return serr
		}
		body = b
		return nil
	})
	return body, err
}

func (p *Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) externalErr(err error) error {
	if resilience.IsCircuitOpen(err) {
		return &domain.ErrCircuitOpen{Service: string(p.spec.Platform)}
	}
	return &domain.ErrExternalService{Service: string(p.spec.Platform), Err: err}
}

// classify marks token endpoint answers that will not improve on retry as
// permanent.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && !retryable(re.Response.StatusCode) {
		return resilience.Permanent(err)
	}
	return err
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// rejected reports whether the provider refused the grant itself. Throttling
// and timeouts are not rejections: the token may still be good.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		return re.Response != nil && refusal(re.Response.StatusCode)
	}
	var se *statusError
	if errors.As(err, &se) {
		return refusal(se.Status)
	}
	return false
}

func refusal(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnauthorized
}

func toTokenSet(tok *oauth2.Token) *domain.TokenSet {
	ts := &domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		ts.ExpiresAt = &exp
	}
	if s, ok := tok.Extra("scope").(string); ok {
		ts.Scopes = splitScopes(s)
	}
	return ts
}

func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
}
