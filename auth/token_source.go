package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const (
	defaultTokenRequestTimeout = 15 * time.Second
	defaultRenewBefore         = 2 * time.Minute
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource yields a usable machine credential, refreshing it from
// the grant endpoint when the cached one is about to expire.
type TokenSource interface {
	Token(ctx context.Context) (core.ActiveToken, error)
}

type StaticTokenSource struct {
	token core.ActiveToken
}

func NewStaticTokenSource(token core.ActiveToken) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(context.Context) (core.ActiveToken, error) {
	if s == nil || strings.TrimSpace(s.token.AccessToken) == "" {
		return core.ActiveToken{}, fmt.Errorf("auth: static token source has no access token")
	}
	return s.token, nil
}

var _ TokenSource = (*StaticTokenSource)(nil)

type tokenEndpointPayload struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// requestToken posts an OAuth grant to tokenURL and maps the outcome
// onto the credential failure taxonomy: 401/403 and invalid_grant are
// auth failures, 429 and 5xx are retryable, the rest is permanent.
func requestToken(
	ctx context.Context,
	client HTTPDoer,
	provider string,
	tokenURL string,
	form url.Values,
	timeout time.Duration,
	now func() time.Time,
) (core.ActiveToken, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultTokenRequestTimeout}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultTokenRequestTimeout
	}

	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		tokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return core.ActiveToken{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	response, err := client.Do(httpReq)
	if err != nil {
		return core.ActiveToken{}, core.NewTransientProviderError(
			fmt.Sprintf("auth: %s token request failed: %v", provider, err),
		)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return core.ActiveToken{}, core.NewTransientProviderError(
			fmt.Sprintf("auth: %s token response read failed: %v", provider, readErr),
		)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return core.ActiveToken{}, core.NewPermanentProviderError(
			fmt.Sprintf("auth: %s token response exceeds %d bytes", provider, maxTokenResponseBodyBytes),
		)
	}

	var payload tokenEndpointPayload
	if len(body) > 0 {
		if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil && response.StatusCode < http.StatusMultipleChoices {
			return core.ActiveToken{}, core.NewPermanentProviderError(
				fmt.Sprintf("auth: %s token response decode failed: %v", provider, decodeErr),
			)
		}
	}

	if err := classifyGrantFailure(provider, response.StatusCode, payload); err != nil {
		return core.ActiveToken{}, err
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.ActiveToken{}, core.NewPermanentProviderError(
			fmt.Sprintf("auth: %s token response missing access token", provider),
		)
	}

	tokenType := strings.TrimSpace(payload.TokenType)
	if tokenType == "" {
		tokenType = "bearer"
	}
	token := core.ActiveToken{
		Provider:    provider,
		TokenType:   tokenType,
		AccessToken: strings.TrimSpace(payload.AccessToken),
		Scopes:      normalizeScopes(strings.Fields(payload.Scope)),
	}
	if payload.ExpiresIn > 0 {
		expiresAt := now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	return token, nil
}

func classifyGrantFailure(provider string, statusCode int, payload tokenEndpointPayload) error {
	detail := firstNonEmpty(payload.ErrorDescription, payload.ErrorCode, "no detail")
	errorCode := strings.ToLower(strings.TrimSpace(payload.ErrorCode))

	switch errorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return core.NewAuthFailureError(
			fmt.Sprintf("auth: %s grant rejected: %s", provider, detail),
		)
	case "temporarily_unavailable":
		return core.NewTransientProviderError(
			fmt.Sprintf("auth: %s token endpoint unavailable: %s", provider, detail),
		)
	}

	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		if errorCode == "" {
			return nil
		}
		return core.NewPermanentProviderError(
			fmt.Sprintf("auth: %s token endpoint error: %s", provider, detail),
		)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.NewAuthFailureError(
			fmt.Sprintf("auth: %s grant rejected (%d): %s", provider, statusCode, detail),
		)
	case statusCode == http.StatusTooManyRequests:
		return core.NewRateLimitedError(
			fmt.Sprintf("auth: %s token endpoint rate limited: %s", provider, detail),
		)
	case statusCode >= http.StatusInternalServerError:
		return core.NewTransientProviderError(
			fmt.Sprintf("auth: %s token endpoint error (%d): %s", provider, statusCode, detail),
		)
	default:
		return core.NewPermanentProviderError(
			fmt.Sprintf("auth: %s token endpoint error (%d): %s", provider, statusCode, detail),
		)
	}
}
