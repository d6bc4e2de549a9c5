package domain

import "time"

// ============================================================
// Social platforms & OAuth connections
// ============================================================

// Platform identifies a third-party social/listing platform.
type Platform string

const (
	PlatformGoogleBusiness Platform = "google_business"
	PlatformFacebook       Platform = "facebook"
	PlatformInstagram      Platform = "instagram"
	PlatformTikTok         Platform = "tiktok"
	PlatformLinkedIn       Platform = "linkedin"
	PlatformTwitter        Platform = "twitter"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformGoogleBusiness,
	PlatformFacebook,
	PlatformInstagram,
	PlatformTikTok,
	PlatformLinkedIn,
	PlatformTwitter,
}

// ParsePlatform validates a platform identifier coming from a URL or body.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, nil
		}
	}
	return "", &ErrValidation{Field: "platform", Message: "unsupported platform: " + s}
}

// Publishing target metadata keys stored on a connection.
const (
	TargetFacebookPage     = "page_id"
	TargetInstagramUser    = "ig_user_id"
	TargetGoogleLocation   = "location_name"
	TargetLinkedInOrg      = "organization_urn"
	MetadataReviewURL      = "review_url"
	MetadataScopesGranted  = "scopes_granted"
	MetadataLastRefreshErr = "last_refresh_error"
)

// TargetKey returns the metadata key a platform uses for its publishing target.
// Empty means the platform publishes as the connected user.
func TargetKey(p Platform) string {
	switch p {
	case PlatformFacebook:
		return TargetFacebookPage
	case PlatformInstagram:
		return TargetInstagramUser
	case PlatformGoogleBusiness:
		return TargetGoogleLocation
	case PlatformLinkedIn:
		return TargetLinkedInOrg
	}
	return ""
}

// OAuthState is the pending half of a connect flow, keyed by the random
// state parameter sent to the provider.
type OAuthState struct {
	State        string    `json:"state"`
	UserID       string    `json:"user_id"`
	BusinessID   string    `json:"business_id"`
	Platform     Platform  `json:"platform"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	ReturnTo     string    `json:"return_to"`
	CreatedAt    time.Time `json:"created_at"`
}

// SocialConnection is a stored, encrypted credential for one business on one platform.
type SocialConnection struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	BusinessID       string            `json:"business_id"`
	Platform         Platform          `json:"platform"`
	PlatformUserID   string            `json:"platform_user_id"`
	PlatformUsername string            `json:"platform_username"`
	AccessTokenEnc   string            `json:"access_token_encrypted"`
	RefreshTokenEnc  string            `json:"refresh_token_encrypted,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	Scopes           []string          `json:"scopes"`
	IsActive         bool              `json:"is_active"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires before now+d.
// Tokens without an expiry never expire.
func (c *SocialConnection) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now.Add(d))
}

// ConnectionStatus is the client-facing view of a connection; it never carries tokens.
type ConnectionStatus struct {
	Platform    Platform          `json:"platform"`
	Configured  bool              `json:"configured"`
	Connected   bool              `json:"connected"`
	Username    string            `json:"username,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	NeedsReauth bool              `json:"needs_reauth"`
	Target      string            `json:"target,omitempty"`
	Metadata    map[string]string `json:"-"`
}

// TokenSet is a decrypted provider token response.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// PlatformIdentity is the account a token belongs to.
type PlatformIdentity struct {
	ID       string
	Username string
}

// ConnectRequest starts an OAuth connect flow.
type ConnectRequest struct {
	ReturnTo string `json:"return_to,omitempty"`
}

// ConnectResponse carries the provider authorization URL.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// SetTargetRequest selects the page/location/organization a connection publishes to.
type SetTargetRequest struct {
	Target    string `json:"target"`
	ReviewURL string `json:"review_url,omitempty"`
}

// RefreshSweepResult summarises a background refresh pass.
type RefreshSweepResult struct {
	Scanned   int `json:"scanned"`
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"` // no refresh token and not yet due
	Failed    int `json:"failed"`
}
