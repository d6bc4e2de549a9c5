package oauthprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/config"
	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"

	"golang.org/x/oauth2"
)

var testCfg = resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}

var testCreds = config.OAuthClient{ClientID: "client-id", ClientSecret: "client-secret"}

func newTestProvider(spec Spec, srv *httptest.Server) *Provider {
	return New(spec, testCreds, "https://api.example.com/v1/oauth/x/callback", srv.Client(),
		resilience.NewCircuitBreaker("test"), testCfg)
}

func TestAuthCodeURL_PKCE(t *testing.T) {
	spec := DefaultSpecs()[domain.PlatformTwitter]
	p := New(spec, testCreds, "https://api.example.com/v1/oauth/twitter/callback", http.DefaultClient,
		resilience.NewCircuitBreaker("test"), testCfg)

	raw := p.AuthCodeURL("state-1", oauth2.GenerateVerifier())
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != "state-1" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge: %s", raw)
	}
	if q.Get("redirect_uri") != "https://api.example.com/v1/oauth/twitter/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
}

func TestAuthCodeURL_TikTokUsesClientKey(t *testing.T) {
	spec := DefaultSpecs()[domain.PlatformTikTok]
	p := New(spec, testCreds, "https://api.example.com/cb", http.DefaultClient,
		resilience.NewCircuitBreaker("test"), testCfg)

	u, _ := url.Parse(p.AuthCodeURL("s", ""))
	q := u.Query()
	if q.Get("client_key") != "client-id" {
		t.Errorf("client_key = %q", q.Get("client_key"))
	}
	if q.Get("scope") != "user.info.basic,video.list" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestAuthCodeURL_GoogleOffline(t *testing.T) {
	spec := DefaultSpecs()[domain.PlatformGoogleBusiness]
	p := New(spec, testCreds, "https://api.example.com/cb", http.DefaultClient,
		resilience.NewCircuitBreaker("test"), testCfg)

	u, _ := url.Parse(p.AuthCodeURL("s", ""))
	if u.Query().Get("access_type") != "offline" || u.Query().Get("prompt") != "consent" {
		t.Errorf("expected offline consent params: %s", u.RawQuery)
	}
}

func TestConfigured(t *testing.T) {
	spec := DefaultSpecs()[domain.PlatformLinkedIn]
	p := New(spec, config.OAuthClient{ClientID: "only-id"}, "", http.DefaultClient,
		resilience.NewCircuitBreaker("test"), testCfg)
	if p.Configured() {
		t.Error("provider without secret must be unconfigured")
	}
}

func TestExchange_FacebookLongLived(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			if r.URL.Query().Get("grant_type") != "fb_exchange_token" || r.URL.Query().Get("fb_exchange_token") != "short" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"access_token":"long","token_type":"bearer","expires_in":5184000}`)
			return
		}
		r.ParseForm()
		if r.PostForm.Get("code") != "the-code" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"short","token_type":"bearer","expires_in":3600,"scope":"pages_show_list"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := Spec{
		Platform:     domain.PlatformFacebook,
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/dialog", TokenURL: srv.URL + "/oauth/access_token", AuthStyle: oauth2.AuthStyleInParams},
		LongLivedURL: srv.URL + "/oauth/access_token",
	}
	p := newTestProvider(spec, srv)

	ts, err := p.Exchange(context.Background(), "the-code", "")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if ts.AccessToken != "long" {
		t.Errorf("access token = %q, want long-lived", ts.AccessToken)
	}
	if ts.ExpiresAt == nil || time.Until(*ts.ExpiresAt) < 24*time.Hour {
		t.Errorf("expected ~60 day expiry, got %v", ts.ExpiresAt)
	}
	if len(ts.Scopes) != 1 || ts.Scopes[0] != "pages_show_list" {
		t.Errorf("scopes = %v", ts.Scopes)
	}
}

func TestExchange_BadCodeIsExternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	spec := Spec{
		Platform: domain.PlatformLinkedIn,
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	_, err := newTestProvider(spec, srv).Exchange(context.Background(), "bad", "")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestRefresh_RejectedRequiresReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	spec := Spec{
		Platform: domain.PlatformGoogleBusiness,
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	_, err := newTestProvider(spec, srv).Refresh(context.Background(), "stale")
	var reauth *domain.ErrReauthRequired
	if !errors.As(err, &reauth) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestRefresh_ThrottledIsNotReauth(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				fmt.Fprint(w, `{"error":"slow_down"}`)
			}))
			defer srv.Close()

			spec := Spec{
				Platform: domain.PlatformLinkedIn,
				Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
			}
			_, err := newTestProvider(spec, srv).Refresh(context.Background(), "good-refresh-token")

			var reauth *domain.ErrReauthRequired
			if errors.As(err, &reauth) {
				t.Fatalf("throttling must not require re-authorization: %v", err)
			}
			var ext *domain.ErrExternalService
			if !errors.As(err, &ext) {
				t.Fatalf("expected ErrExternalService, got %v", err)
			}
			if int(calls.Load()) != testCfg.MaxRetries+1 {
				t.Errorf("expected %d attempts, got %d", testCfg.MaxRetries+1, calls.Load())
			}
		})
	}
}

func TestRefresh_TikTokThrottledIsNotReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	spec := DefaultSpecs()[domain.PlatformTikTok]
	spec.RefreshURL = srv.URL
	_, err := newTestProvider(spec, srv).Refresh(context.Background(), "old-rt")
	var reauth *domain.ErrReauthRequired
	if err == nil || errors.As(err, &reauth) {
		t.Fatalf("expected a transient error, got %v", err)
	}
}

func TestRefresh_ForbiddenIsNotReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"access_denied"}`)
	}))
	defer srv.Close()

	spec := Spec{
		Platform: domain.PlatformGoogleBusiness,
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	_, err := newTestProvider(spec, srv).Refresh(context.Background(), "rt")
	var reauth *domain.ErrReauthRequired
	if errors.As(err, &reauth) {
		t.Fatalf("expected a non-reauth error, got %v", err)
	}
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	spec := DefaultSpecs()[domain.PlatformFacebook]
	p := New(spec, testCreds, "", http.DefaultClient, resilience.NewCircuitBreaker("test"), testCfg)

	_, err := p.Refresh(context.Background(), "")
	var reauth *domain.ErrReauthRequired
	if !errors.As(err, &reauth) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestRefresh_TikTokFormPost(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-at","refresh_token":"new-rt","expires_in":86400,"scope":"user.info.basic,video.list"}`)
	}))
	defer srv.Close()

	spec := DefaultSpecs()[domain.PlatformTikTok]
	spec.RefreshURL = srv.URL
	ts, err := newTestProvider(spec, srv).Refresh(context.Background(), "old-rt")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if gotForm.Get("client_key") != "client-id" || gotForm.Get("grant_type") != "refresh_token" || gotForm.Get("refresh_token") != "old-rt" {
		t.Errorf("unexpected form: %v", gotForm)
	}
	if ts.AccessToken != "new-at" || ts.RefreshToken != "new-rt" {
		t.Errorf("unexpected tokens: %+v", ts)
	}
	if len(ts.Scopes) != 2 {
		t.Errorf("scopes = %v", ts.Scopes)
	}
}

func TestRefresh_TikTokErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"refresh token expired"}`)
	}))
	defer srv.Close()

	spec := DefaultSpecs()[domain.PlatformTikTok]
	spec.RefreshURL = srv.URL
	_, err := newTestProvider(spec, srv).Refresh(context.Background(), "old-rt")
	var reauth *domain.ErrReauthRequired
	if !errors.As(err, &reauth) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestIdentity_Twitter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"42","name":"Joe's Pizza","username":"joespizza"}}`)
	}))
	defer srv.Close()

	spec := DefaultSpecs()[domain.PlatformTwitter]
	spec.IdentityURL = srv.URL
	id, err := newTestProvider(spec, srv).Identity(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.ID != "42" || id.Username != "joespizza" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestIdentity_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	spec := DefaultSpecs()[domain.PlatformLinkedIn]
	spec.IdentityURL = srv.URL
	_, err := newTestProvider(spec, srv).Identity(context.Background(), "bad")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 external error, got %v", err)
	}
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name   string
		parse  func([]byte) (*domain.PlatformIdentity, error)
		body   string
		wantID string
		wantOK bool
	}{
		{"oidc", parseOIDCUserInfo, `{"sub":"g-1","email":"a@b.c"}`, "g-1", true},
		{"oidc missing sub", parseOIDCUserInfo, `{"email":"a@b.c"}`, "", false},
		{"graph", parseGraphMe, `{"id":"fb-1","name":"Page"}`, "fb-1", true},
		{"tiktok", parseTikTokUser, `{"data":{"user":{"open_id":"tt-1","display_name":"x"}}}`, "tt-1", true},
		{"tiktok empty", parseTikTokUser, `{"data":{}}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.parse([]byte(tt.body))
			if tt.wantOK {
				if err != nil || id.ID != tt.wantID {
					t.Errorf("got %+v, %v", id, err)
				}
			} else if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewRegistry_RedirectURIs(t *testing.T) {
	reg := NewRegistry(DefaultSpecs(), map[string]config.OAuthClient{"twitter": testCreds},
		"https://api.example.com/", http.DefaultClient, resilience.NewBreakers("default"), testCfg)

	if len(reg) != len(domain.Platforms) {
		t.Fatalf("registry has %d providers", len(reg))
	}
	if !reg[domain.PlatformTwitter].Configured() {
		t.Error("twitter should be configured")
	}
	if reg[domain.PlatformTikTok].Configured() {
		t.Error("tiktok should not be configured")
	}
	u, _ := url.Parse(reg[domain.PlatformTwitter].AuthCodeURL("s", "v"))
	if got := u.Query().Get("redirect_uri"); got != "https://api.example.com/v1/oauth/twitter/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
}
