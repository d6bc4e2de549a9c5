package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var contentTracer = otel.Tracer("service/content")

// PostLimits is the maximum post length per platform, in characters.
var PostLimits = map[domain.Platform]int{
	domain.PlatformTwitter:        280,
	domain.PlatformLinkedIn:       3000,
	domain.PlatformFacebook:       5000,
	domain.PlatformInstagram:      2200,
	domain.PlatformGoogleBusiness: 1500,
	domain.PlatformTikTok:         2200,
}

const (
	chatRateLimit     = 20
	chatRateWindow    = time.Minute
	maxChatHistory    = 10
	maxChatMessageLen = 1000
	maxTopicLen       = 500
	maxReviewTextLen  = 4096
)

// ContentService drafts posts and replies and answers the public chat widget.
type ContentService struct {
	businesses *BusinessService
	generator  port.TextGenerator // nil when Gemini is not configured
	limiter    port.RateLimiter
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewContentService creates a new content service. generator may be nil.
func NewContentService(businesses *BusinessService, generator port.TextGenerator, limiter port.RateLimiter, metrics *observability.Metrics, logger *zap.Logger) *ContentService {
	return &ContentService{
		businesses: businesses,
		generator:  generator,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
	}
}

// GeneratePost drafts a social post sized for the target platform.
func (s *ContentService) GeneratePost(ctx context.Context, userID, businessID string, req *domain.PostDraftRequest) (*domain.GeneratedText, error) {
	ctx, span := contentTracer.Start(ctx, "ContentService.GeneratePost")
	defer span.End()

	if s.generator == nil {
		return nil, &domain.ErrNotConfigured{Feature: "ai content"}
	}
	platform, err := domain.ParsePlatform(string(req.Platform))
	if err != nil {
		return nil, err
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, &domain.ErrValidation{Field: "topic", Message: "required"}
	}
	if utf8.RuneCountInString(topic) > maxTopicLen {
		return nil, &domain.ErrValidation{Field: "topic", Message: fmt.Sprintf("must be at most %d characters", maxTopicLen)}
	}
	tone := strings.TrimSpace(req.Tone)
	if tone == "" {
		tone = "friendly"
	}
	biz, err := s.businesses.Authorize(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("platform", string(platform)))

	limit := PostLimits[platform]
	system := businessFacts(biz) + fmt.Sprintf(
		"\nYou write social media posts for this business. Write one %s post in a %s tone. "+
			"Keep it under %d characters. Reply with the post text only, no preamble.",
		platform, tone, limit)
	out, err := s.generate(ctx, system, []domain.ChatTurn{{Role: "user", Text: topic}})
	if err != nil {
		return nil, err
	}
	out.Text = TrimToLimit(out.Text, limit)
	return out, nil
}

// GenerateReviewReply drafts an owner reply to a review.
func (s *ContentService) GenerateReviewReply(ctx context.Context, userID, businessID string, req *domain.ReviewReplyRequest) (*domain.GeneratedText, error) {
	ctx, span := contentTracer.Start(ctx, "ContentService.GenerateReviewReply")
	defer span.End()

	if s.generator == nil {
		return nil, &domain.ErrNotConfigured{Feature: "ai content"}
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, &domain.ErrValidation{Field: "rating", Message: "must be between 1 and 5"}
	}
	if utf8.RuneCountInString(req.Text) > maxReviewTextLen {
		return nil, &domain.ErrValidation{Field: "text", Message: fmt.Sprintf("must be at most %d characters", maxReviewTextLen)}
	}
	biz, err := s.businesses.Authorize(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}

	reviewer := strings.TrimSpace(req.Reviewer)
	if reviewer == "" {
		reviewer = "a customer"
	}
	system := businessFacts(biz) +
		"\nYou reply to customer reviews on behalf of the owner. Be warm, specific and brief. " +
		"Thank positive reviewers; for negative reviews apologise and invite them to get in touch. " +
		"Never offer refunds or discounts. Reply with the response text only."
	prompt := fmt.Sprintf("Review by %s, %d out of 5 stars:\n%s", reviewer, req.Rating, strings.TrimSpace(req.Text))

	out, err := s.generate(ctx, system, []domain.ChatTurn{{Role: "user", Text: prompt}})
	if err != nil {
		return nil, err
	}
	out.Text = TrimToLimit(out.Text, maxReplyLength)
	return out, nil
}

// Chat answers a website visitor as the business assistant.
func (s *ContentService) Chat(ctx context.Context, businessID, clientIP string, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := contentTracer.Start(ctx, "ContentService.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	if s.generator == nil {
		return nil, &domain.ErrNotConfigured{Feature: "chat"}
	}
	if err := allow(ctx, s.limiter, s.logger, "chat:"+businessID+":"+clientIP, chatRateLimit, chatRateWindow); err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, &domain.ErrValidation{Field: "message", Message: "required"}
	}
	if utf8.RuneCountInString(msg) > maxChatMessageLen {
		return nil, &domain.ErrValidation{Field: "message", Message: fmt.Sprintf("must be at most %d characters", maxChatMessageLen)}
	}
	biz, err := s.businesses.GetPublic(ctx, businessID)
	if err != nil {
		return nil, err
	}

	system := businessFacts(biz) +
		"\nYou are the website assistant of this business. Answer visitor questions using only the facts above. " +
		"If you do not know, suggest contacting the business directly. Keep answers short."
	turns := append(chatHistory(req.History), domain.ChatTurn{Role: "user", Text: msg})

	out, err := s.generate(ctx, system, turns)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Answer: strings.TrimSpace(out.Text)}, nil
}

func (s *ContentService) generate(ctx context.Context, system string, turns []domain.ChatTurn) (*domain.GeneratedText, error) {
	start := time.Now()
	out, err := s.generator.Generate(ctx, system, turns)
	s.metrics.RecordRequestDuration("gemini_generate", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("gemini")
		s.logger.Error("text generation failed", zap.Error(err))
		return nil, err
	}
	s.metrics.RecordTokens(out.PromptTokens, out.CompletionTokens)
	out.Text = strings.TrimSpace(out.Text)
	return out, nil
}

// chatHistory keeps the last turns with a known role.
func chatHistory(history []domain.ChatTurn) []domain.ChatTurn {
	var turns []domain.ChatTurn
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" || (t.Role != "user" && t.Role != "assistant") {
			continue
		}
		if utf8.RuneCountInString(text) > maxChatMessageLen {
			text = string([]rune(text)[:maxChatMessageLen])
		}
		turns = append(turns, domain.ChatTurn{Role: t.Role, Text: text})
	}
	if len(turns) > maxChatHistory {
		turns = turns[len(turns)-maxChatHistory:]
	}
	return turns
}

func businessFacts(b *domain.Business) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Business: %s\n", b.Name)
	for _, f := range []struct{ label, value string }{
		{"Industry", b.Industry},
		{"City", b.City},
		{"Phone", b.Phone},
		{"Email", b.Email},
		{"Website", b.Website},
		{"About", b.Description},
	} {
		if f.value != "" {
			fmt.Fprintf(&sb, "%s: %s\n", f.label, f.value)
		}
	}
	return sb.String()
}

// TrimToLimit shortens text to at most limit characters, cutting at the
// last word boundary when one exists in the second half.
func TrimToLimit(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	cut := runes[:limit]
	for i := len(cut) - 1; i >= limit/2; i-- {
		if unicode.IsSpace(cut[i]) {
			return strings.TrimRightFunc(string(cut[:i]), unicode.IsSpace)
		}
	}
	return string(cut)
}
