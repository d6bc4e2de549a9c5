package observability_test

import (
	"testing"

	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not panic with duplicate registration.
	a := observability.NewMetrics()
	b := observability.NewMetrics()

	a.IncrMessage("email", "sent")
	if got := b.Snapshot(nil).EmailsSent; got != 0 {
		t.Fatalf("expected isolated registries, got %d", got)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.RecordTokens(120, 30)
	m.RecordTokens(80, 20)
	m.IncrMessage("email", "sent")
	m.IncrMessage("sms", "sent")
	m.IncrMessage("sms", "failed")
	m.IncrOAuthEvent("twitter", "connected")
	m.IncrOAuthEvent("twitter", "refresh_failed")
	m.IncrOAuthEvent("twitter", "refresh_failed")

	s := m.Snapshot([]string{"twitter", "facebook"})

	if s.PromptTokens != 200 || s.CompletionTokens != 50 {
		t.Errorf("tokens = %d/%d", s.PromptTokens, s.CompletionTokens)
	}
	if s.EmailsSent != 1 || s.SMSSent != 1 || s.SMSFailed != 1 {
		t.Errorf("messages = %+v", s)
	}
	if s.OAuthConnected["twitter"] != 1 || s.OAuthRefreshFail["twitter"] != 2 {
		t.Errorf("oauth = %+v / %+v", s.OAuthConnected, s.OAuthRefreshFail)
	}
	if s.OAuthConnected["facebook"] != 0 {
		t.Errorf("expected zero for facebook")
	}
}
