package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// SocialEndpoints are the API roots the social client talks to.
type SocialEndpoints struct {
	Graph         string
	LinkedIn      string
	Twitter       string
	GoogleProfile string
}

// DefaultSocialEndpoints returns the production API roots.
func DefaultSocialEndpoints() SocialEndpoints {
	return SocialEndpoints{
		Graph:         "https://graph.facebook.com/v19.0",
		LinkedIn:      "https://api.linkedin.com/v2",
		Twitter:       "https://api.twitter.com/2",
		GoogleProfile: "https://mybusiness.googleapis.com/v4",
	}
}

// SocialClient publishes posts and proxies Google Business Profile reviews
// using per-connection access tokens.
type SocialClient struct {
	httpClient *http.Client
	endpoints  SocialEndpoints
	breakers   *resilience.Breakers
	cfg        resilience.Config
}

// NewSocialClient creates a new SocialClient.
func NewSocialClient(httpClient *http.Client, endpoints SocialEndpoints, breakers *resilience.Breakers, cfg resilience.Config) *SocialClient {
	return &SocialClient{
		httpClient: httpClient,
		endpoints:  endpoints,
		breakers:   breakers,
		cfg:        cfg,
	}
}

// Publish posts req on platform and returns the platform's id for the new post.
func (c *SocialClient) Publish(ctx context.Context, platform domain.Platform, accessToken string, conn *domain.SocialConnection, req *domain.PublishRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "SocialClient.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	switch platform {
	case domain.PlatformFacebook:
		return c.publishFacebook(ctx, accessToken, conn.Metadata[domain.TargetFacebookPage], req)
	case domain.PlatformInstagram:
		return c.publishInstagram(ctx, accessToken, conn.Metadata[domain.TargetInstagramUser], req)
	case domain.PlatformLinkedIn:
		author := conn.Metadata[domain.TargetLinkedInOrg]
		if author == "" {
			author = "urn:li:person:" + conn.PlatformUserID
		}
		return c.publishLinkedIn(ctx, accessToken, author, req)
	case domain.PlatformTwitter:
		return c.publishTwitter(ctx, accessToken, req)
	case domain.PlatformGoogleBusiness:
		return c.publishGoogle(ctx, accessToken, conn.Metadata[domain.TargetGoogleLocation], req)
	}
	return "", &domain.ErrValidation{Field: "platforms", Message: "publishing is not supported on " + string(platform)}
}

// publishFacebook posts as the selected page, which needs the page's own token.
func (c *SocialClient) publishFacebook(ctx context.Context, userToken, pageID string, req *domain.PublishRequest) (string, error) {
	var page struct {
		AccessToken string `json:"access_token"`
	}
	err := c.call(ctx, domain.PlatformFacebook, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=access_token", c.endpoints.Graph, url.PathEscape(pageID)), userToken, nil, &page)
	if err != nil {
		return "", err
	}
	if page.AccessToken == "" {
		return "", &domain.ErrExternalService{Service: "facebook", Err: fmt.Errorf("no page token for %s", pageID)}
	}

	var created struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if req.ImageURL != "" {
		body := map[string]string{"url": req.ImageURL, "caption": req.Text}
		err = c.call(ctx, domain.PlatformFacebook, http.MethodPost,
			fmt.Sprintf("%s/%s/photos", c.endpoints.Graph, url.PathEscape(pageID)), page.AccessToken, body, &created)
	} else {
		body := map[string]string{"message": req.Text}
		err = c.call(ctx, domain.PlatformFacebook, http.MethodPost,
			fmt.Sprintf("%s/%s/feed", c.endpoints.Graph, url.PathEscape(pageID)), page.AccessToken, body, &created)
	}
	if err != nil {
		return "", err
	}
	if created.PostID != "" {
		return created.PostID, nil
	}
	return created.ID, nil
}

// publishInstagram creates a media container and publishes it.
func (c *SocialClient) publishInstagram(ctx context.Context, token, igUserID string, req *domain.PublishRequest) (string, error) {
	var container struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, domain.PlatformInstagram, http.MethodPost,
		fmt.Sprintf("%s/%s/media", c.endpoints.Graph, url.PathEscape(igUserID)), token,
		map[string]string{"image_url": req.ImageURL, "caption": req.Text}, &container)
	if err != nil {
		return "", err
	}

	var published struct {
		ID string `json:"id"`
	}
	err = c.call(ctx, domain.PlatformInstagram, http.MethodPost,
		fmt.Sprintf("%s/%s/media_publish", c.endpoints.Graph, url.PathEscape(igUserID)), token,
		map[string]string{"creation_id": container.ID}, &published)
	if err != nil {
		return "", err
	}
	return published.ID, nil
}

func (c *SocialClient) publishLinkedIn(ctx context.Context, token, author string, req *domain.PublishRequest) (string, error) {
	body := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": req.Text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, domain.PlatformLinkedIn, http.MethodPost, c.endpoints.LinkedIn+"/ugcPosts", token, body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *SocialClient) publishTwitter(ctx context.Context, token string, req *domain.PublishRequest) (string, error) {
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.call(ctx, domain.PlatformTwitter, http.MethodPost, c.endpoints.Twitter+"/tweets", token,
		map[string]string{"text": req.Text}, &created); err != nil {
		return "", err
	}
	return created.Data.ID, nil
}

func (c *SocialClient) publishGoogle(ctx context.Context, token, location string, req *domain.PublishRequest) (string, error) {
	body := map[string]any{
		"languageCode": "en-US",
		"summary":      req.Text,
		"topicType":    "STANDARD",
	}
	if req.ImageURL != "" {
		body["media"] = []map[string]string{{"mediaFormat": "PHOTO", "sourceUrl": req.ImageURL}}
	}
	var created struct {
		Name string `json:"name"`
	}
	if err := c.call(ctx, domain.PlatformGoogleBusiness, http.MethodPost,
		fmt.Sprintf("%s/%s/localPosts", c.endpoints.GoogleProfile, location), token, body, &created); err != nil {
		return "", err
	}
	return created.Name, nil
}

// ============================================================
// Google Business Profile reviews
// ============================================================

var starRatings = map[string]int{"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5}

// ListReviews returns the reviews of a location, newest first.
func (c *SocialClient) ListReviews(ctx context.Context, accessToken, locationName string) ([]domain.Review, error) {
	ctx, span := tracer.Start(ctx, "SocialClient.ListReviews")
	defer span.End()

	var resp struct {
		Reviews []struct {
			ReviewID string `json:"reviewId"`
			Reviewer struct {
				DisplayName string `json:"displayName"`
			} `json:"reviewer"`
			StarRating  string    `json:"starRating"`
			Comment     string    `json:"comment"`
			CreateTime  time.Time `json:"createTime"`
			ReviewReply *struct {
				Comment    string    `json:"comment"`
				UpdateTime time.Time `json:"updateTime"`
			} `json:"reviewReply"`
		} `json:"reviews"`
	}
	err := c.call(ctx, domain.PlatformGoogleBusiness, http.MethodGet,
		fmt.Sprintf("%s/%s/reviews?orderBy=updateTime%%20desc", c.endpoints.GoogleProfile, locationName), accessToken, nil, &resp)
	if err != nil {
		return nil, err
	}

	reviews := make([]domain.Review, 0, len(resp.Reviews))
	for _, r := range resp.Reviews {
		rv := domain.Review{
			ID:        r.ReviewID,
			Reviewer:  r.Reviewer.DisplayName,
			Rating:    starRatings[r.StarRating],
			Comment:   r.Comment,
			CreatedAt: r.CreateTime,
		}
		if r.ReviewReply != nil {
			rv.Reply = r.ReviewReply.Comment
			t := r.ReviewReply.UpdateTime
			rv.RepliedAt = &t
		}
		reviews = append(reviews, rv)
	}
	return reviews, nil
}

// ReplyToReview creates or replaces the owner reply on a review.
func (c *SocialClient) ReplyToReview(ctx context.Context, accessToken, locationName, reviewID, comment string) error {
	ctx, span := tracer.Start(ctx, "SocialClient.ReplyToReview")
	defer span.End()

	return c.call(ctx, domain.PlatformGoogleBusiness, http.MethodPut,
		fmt.Sprintf("%s/%s/reviews/%s/reply", c.endpoints.GoogleProfile, locationName, url.PathEscape(reviewID)),
		accessToken, map[string]string{"comment": comment}, nil)
}

// ============================================================
// HTTP plumbing
// ============================================================

// call sends a JSON request with a bearer token behind the platform's breaker.
// 4xx answers are not retried.
func (c *SocialClient) call(ctx context.Context, platform domain.Platform, method, endpoint, token string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	err := resilience.Execute(ctx, c.breakers.Get(string(platform)), c.cfg, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if platform == domain.PlatformLinkedIn {
			req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			apiErr := fmt.Errorf("%s API returned status %d: %s", platform, resp.StatusCode, strings.TrimSpace(string(respBody)))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return resilience.Permanent(apiErr)
			}
			return apiErr
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return resilience.Permanent(fmt.Errorf("decode %s response: %w", platform, err))
		}
		return nil
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return &domain.ErrCircuitOpen{Service: string(platform)}
		}
		return &domain.ErrExternalService{Service: string(platform), Err: err}
	}
	return nil
}
