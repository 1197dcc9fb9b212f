package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
)

// Doer matches the HTTP client surface the provider adapters accept.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport wraps a provider HTTP client with an AdaptivePolicy. Calls
// inside an active throttle window fail fast with a rate-limited error
// instead of reaching the provider; responses feed the window state.
type Transport struct {
	Next     Doer
	Policy   *AdaptivePolicy
	Provider string
	Bucket   string
}

func NewTransport(next Doer, policy *AdaptivePolicy, provider, bucket string) *Transport {
	return &Transport{
		Next:     next,
		Policy:   policy,
		Provider: provider,
		Bucket:   bucket,
	}
}

func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	if t == nil || t.Next == nil {
		return nil, fmt.Errorf("ratelimit: transport has no next client")
	}
	if t.Policy == nil {
		return t.Next.Do(req)
	}

	key := Key{Provider: t.Provider, Bucket: t.Bucket}
	if err := t.Policy.BeforeCall(req.Context(), key); err != nil {
		var throttled ThrottledError
		if errors.As(err, &throttled) {
			return nil, throttled.ToIntegrationError()
		}
		return nil, err
	}

	res, err := t.Next.Do(req)
	if err != nil {
		return nil, err
	}

	// Window bookkeeping is best effort; a state store hiccup must not
	// turn a successful provider call into a failure.
	_ = t.Policy.AfterCall(req.Context(), key, ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    flattenHeader(res.Header),
	})
	return res, nil
}

func flattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		flat[key] = values[0]
	}
	return flat
}
