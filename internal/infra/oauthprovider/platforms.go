package oauthprovider

import (
	"encoding/json"
	"fmt"

	"github.com/jetsuite/jetsuite-api/internal/domain"

	"golang.org/x/oauth2"
)

const graphAPIVersion = "v19.0"

// Spec is the static description of one platform's OAuth integration.
type Spec struct {
	Platform  domain.Platform
	Endpoint  oauth2.Endpoint
	Scopes    []string
	AuthQuery map[string]string // extra authorize-URL parameters

	// PKCE requires an S256 code challenge on authorize and the verifier on exchange.
	PKCE bool
	// ClientIDParam replaces "client_id" on the authorize URL and token calls.
	ClientIDParam string
	// ScopeSeparator overrides the default space-separated scope list.
	ScopeSeparator string

	// LongLivedURL, when set, is the Graph endpoint a short-lived token is
	// swapped at right after the code exchange.
	LongLivedURL string
	// RefreshURL, when set, replaces the oauth2 refresh grant with a form post
	// that carries ClientIDParam.
	RefreshURL string

	IdentityURL   string
	ParseIdentity func(body []byte) (*domain.PlatformIdentity, error)
}

// DefaultSpecs returns the production endpoints for every supported platform.
func DefaultSpecs() map[domain.Platform]Spec {
	graph := "https://graph.facebook.com/" + graphAPIVersion
	metaEndpoint := oauth2.Endpoint{
		AuthURL:   "https://www.facebook.com/" + graphAPIVersion + "/dialog/oauth",
		TokenURL:  graph + "/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}

	return map[domain.Platform]Spec{
		domain.PlatformGoogleBusiness: {
			Platform: domain.PlatformGoogleBusiness,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:  "https://oauth2.googleapis.com/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{
				"https://www.googleapis.com/auth/business.manage",
				"openid", "email", "profile",
			},
			AuthQuery:     map[string]string{"access_type": "offline", "prompt": "consent"},
			IdentityURL:   "https://www.googleapis.com/oauth2/v3/userinfo",
			ParseIdentity: parseOIDCUserInfo,
		},
		domain.PlatformFacebook: {
			Platform: domain.PlatformFacebook,
			Endpoint: metaEndpoint,
			Scopes: []string{
				"pages_show_list", "pages_read_engagement", "pages_manage_posts",
			},
			LongLivedURL:  graph + "/oauth/access_token",
			IdentityURL:   graph + "/me?fields=id,name",
			ParseIdentity: parseGraphMe,
		},
		domain.PlatformInstagram: {
			Platform: domain.PlatformInstagram,
			Endpoint: metaEndpoint,
			Scopes: []string{
				"instagram_basic", "instagram_content_publish", "pages_show_list", "business_management",
			},
			LongLivedURL:  graph + "/oauth/access_token",
			IdentityURL:   graph + "/me?fields=id,name",
			ParseIdentity: parseGraphMe,
		},
		domain.PlatformTikTok: {
			Platform: domain.PlatformTikTok,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.tiktok.com/v2/auth/authorize/",
				TokenURL:  "https://open.tiktokapis.com/v2/oauth/token/",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes:         []string{"user.info.basic", "video.list"},
			ClientIDParam:  "client_key",
			ScopeSeparator: ",",
			RefreshURL:     "https://open.tiktokapis.com/v2/oauth/token/",
			IdentityURL:    "https://open.tiktokapis.com/v2/user/info/?fields=open_id,display_name",
			ParseIdentity:  parseTikTokUser,
		},
		domain.PlatformLinkedIn: {
			Platform: domain.PlatformLinkedIn,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
				TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes:        []string{"openid", "profile", "email", "w_member_social"},
			IdentityURL:   "https://api.linkedin.com/v2/userinfo",
			ParseIdentity: parseOIDCUserInfo,
		},
		domain.PlatformTwitter: {
			Platform: domain.PlatformTwitter,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://twitter.com/i/oauth2/authorize",
				TokenURL:  "https://api.twitter.com/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes:        []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			PKCE:          true,
			IdentityURL:   "https://api.twitter.com/2/users/me",
			ParseIdentity: parseTwitterMe,
		},
	}
}

// ============================================================
// Identity payloads
// ============================================================

func parseOIDCUserInfo(body []byte) (*domain.PlatformIdentity, error) {
	var u struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("userinfo: missing sub")
	}
	name := u.Name
	if name == "" {
		name = u.Email
	}
	return &domain.PlatformIdentity{ID: u.Sub, Username: name}, nil
}

func parseGraphMe(body []byte) (*domain.PlatformIdentity, error) {
	var me struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, fmt.Errorf("graph /me: missing id")
	}
	return &domain.PlatformIdentity{ID: me.ID, Username: me.Name}, nil
}

func parseTikTokUser(body []byte) (*domain.PlatformIdentity, error) {
	var resp struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.User.OpenID == "" {
		return nil, fmt.Errorf("tiktok user info: missing open_id")
	}
	return &domain.PlatformIdentity{ID: resp.Data.User.OpenID, Username: resp.Data.User.DisplayName}, nil
}

func parseTwitterMe(body []byte) (*domain.PlatformIdentity, error) {
	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("twitter users/me: missing id")
	}
	return &domain.PlatformIdentity{ID: resp.Data.ID, Username: resp.Data.Username}, nil
}
