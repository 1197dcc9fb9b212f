package integrations_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	integrations "github.com/nstoddard17/chainreact-app-9e-sub013"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/providers"
	"github.com/nstoddard17/chainreact-app-9e-sub013/ratelimit"
)

// Composes a provider adapter with the rate-limit transport the way a
// downstream service would: the adapter validates tokens over HTTP, the
// transport tracks provider throttle windows, and calls inside an active
// window never reach the provider.
func TestProviderWithRateLimitTransport(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	upstream := &recordingDoer{
		responses: []*http.Response{
			testResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}),
			testResponse(http.StatusOK, nil),
		},
	}

	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	policy.Now = func() time.Time { return now }

	transport := ratelimit.NewTransport(upstream, policy, "github", "validate")

	adapter, err := integrations.OAuth2Provider(providers.OAuth2Config{
		ID:          "github",
		TokenURL:    "https://github.com/login/oauth/access_token",
		ValidateURL: "https://api.github.com/user",
		ClientID:    "client_123",
		HTTPClient:  transport,
	})
	if err != nil {
		t.Fatalf("build adapter: %v", err)
	}

	token := core.ActiveToken{
		UserID:      "user_1",
		Provider:    "github",
		AccessToken: "tok_abc",
	}

	// The provider throttles the first validation call.
	validation, err := adapter.ValidateToken(context.Background(), token)
	if err == nil {
		t.Fatalf("expected rate limited error, got validation %+v", validation)
	}
	if !core.IsRateLimited(err) {
		t.Fatalf("expected rate limited classification, got %v", err)
	}
	if upstream.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", upstream.calls)
	}

	// Inside the throttle window the transport fails fast without
	// touching the provider.
	if _, err := adapter.ValidateToken(context.Background(), token); err == nil {
		t.Fatalf("expected error inside throttle window")
	} else if !core.IsTransientFailure(err) {
		t.Fatalf("expected transient classification inside window, got %v", err)
	}
	if upstream.calls != 1 {
		t.Fatalf("expected fail-fast inside window, upstream calls %d", upstream.calls)
	}

	// Once the window elapses the call goes through and validates.
	now = now.Add(31 * time.Second)
	validation, err = adapter.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate after window: %v", err)
	}
	if !validation.Valid {
		t.Fatalf("expected valid token after window, got %+v", validation)
	}
	if upstream.calls != 2 {
		t.Fatalf("expected upstream call after window, got %d", upstream.calls)
	}
}

type recordingDoer struct {
	responses []*http.Response
	calls     int
}

func (d *recordingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls++
	if len(d.responses) == 0 {
		return testResponse(http.StatusOK, nil), nil
	}
	res := d.responses[0]
	d.responses = d.responses[1:]
	return res, nil
}

func testResponse(status int, headers map[string]string) *http.Response {
	header := http.Header{}
	for key, value := range headers {
		header.Set(key, value)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}
}
