package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth2Config struct {
	ID                  string
	TokenURL            string
	ValidateURL         string
	ClientID            string
	ClientSecret        string
	ClientSecretInBody  bool
	DefaultScopes       []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
}

// OAuth2Adapter refreshes and validates tokens against any provider that
// implements the standard refresh_token grant. Token endpoint failures are
// classified so callers can distinguish revoked grants from outages.
type OAuth2Adapter struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewOAuth2Adapter(cfg OAuth2Config) (*OAuth2Adapter, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}

	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ValidateURL = strings.TrimSpace(cfg.ValidateURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth2Adapter{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (a *OAuth2Adapter) ID() string {
	if a == nil {
		return ""
	}
	return a.cfg.ID
}

func (a *OAuth2Adapter) RefreshToken(ctx context.Context, token core.ActiveToken) (core.RefreshOutcome, error) {
	if a == nil {
		return core.RefreshOutcome{}, fmt.Errorf("providers: oauth2 adapter is nil")
	}
	refreshToken := strings.TrimSpace(token.RefreshToken)
	if refreshToken == "" {
		return core.RefreshOutcome{}, core.NewAuthFailureError(
			fmt.Sprintf("provider %s credential has no refresh token", a.cfg.ID),
		)
	}

	scopes := normalizeScopes(token.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), a.cfg.DefaultScopes...)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	payload, err := a.fetchToken(ctx, form)
	if err != nil {
		return core.RefreshOutcome{}, err
	}
	if refreshedScopes := normalizeScopes(parseScopeList(payload.Scope)); len(refreshedScopes) > 0 {
		scopes = refreshedScopes
	}

	now := a.cfg.Now().UTC()
	rotated := strings.TrimSpace(payload.RefreshToken)

	refreshed := token
	refreshed.TokenType = normalizeTokenType(payload.TokenType)
	refreshed.AccessToken = strings.TrimSpace(payload.AccessToken)
	if rotated != "" {
		refreshed.RefreshToken = rotated
	}
	refreshed.Scopes = append([]string(nil), scopes...)
	refreshed.ExpiresAt = a.resolveExpiresAt(now, payload.ExpiresIn)
	refreshed.Refreshable = strings.TrimSpace(refreshed.RefreshToken) != ""

	return core.RefreshOutcome{
		Token:               refreshed,
		RotatedRefreshToken: rotated != "",
		Metadata: map[string]any{
			"provider_id": a.cfg.ID,
			"token_url":   a.cfg.TokenURL,
		},
	}, nil
}

func (a *OAuth2Adapter) ValidateToken(ctx context.Context, token core.ActiveToken) (core.TokenValidation, error) {
	if a == nil {
		return core.TokenValidation{}, fmt.Errorf("providers: oauth2 adapter is nil")
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return core.TokenValidation{Valid: false, Reason: "missing access token"}, nil
	}
	if a.cfg.ValidateURL == "" {
		// No validation endpoint configured; fall back to local expiry check.
		if token.ExpiresAt != nil && !token.ExpiresAt.After(a.cfg.Now()) {
			return core.TokenValidation{Valid: false, Reason: "token expired"}, nil
		}
		return core.TokenValidation{Valid: true, Scopes: append([]string(nil), token.Scopes...)}, nil
	}

	requestCtx, cancel := context.WithTimeout(ctx, a.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodGet, a.cfg.ValidateURL, nil)
	if err != nil {
		return core.TokenValidation{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token.AccessToken))
	httpReq.Header.Set("Accept", "application/json")

	response, err := a.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenValidation{}, core.NewTransientProviderError(
			fmt.Sprintf("provider %s validation request failed: %v", a.cfg.ID, err),
		)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxTokenResponseBodyBytes))

	switch {
	case response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices:
		return core.TokenValidation{Valid: true, Scopes: append([]string(nil), token.Scopes...)}, nil
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return core.TokenValidation{
			Valid:  false,
			Reason: fmt.Sprintf("provider rejected token (%d)", response.StatusCode),
		}, nil
	case response.StatusCode == http.StatusTooManyRequests:
		return core.TokenValidation{}, core.NewRateLimitedError(
			fmt.Sprintf("provider %s validation rate limited", a.cfg.ID),
		)
	default:
		return core.TokenValidation{}, core.NewTransientProviderError(
			fmt.Sprintf("provider %s validation endpoint returned %d", a.cfg.ID, response.StatusCode),
		)
	}
}

func (a *OAuth2Adapter) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if a.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", a.cfg.ClientID)
	if a.cfg.ClientSecretInBody && a.cfg.ClientSecret != "" {
		values.Set("client_secret", a.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, a.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		a.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !a.cfg.ClientSecretInBody && a.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	}

	response, err := a.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, core.NewTransientProviderError(
			fmt.Sprintf("provider %s token request failed: %v", a.cfg.ID, err),
		)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, core.NewTransientProviderError(
			fmt.Sprintf("provider %s token response read failed: %v", a.cfg.ID, readErr),
		)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, core.NewPermanentProviderError(
			fmt.Sprintf("provider %s token response exceeds %d bytes", a.cfg.ID, maxTokenResponseBodyBytes),
		)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return tokenEndpointPayload{}, core.NewPermanentProviderError(
			fmt.Sprintf("provider %s token response decode failed: %v", a.cfg.ID, parseErr),
		)
	}
	if err := classifyTokenEndpointError(a.cfg.ID, response.StatusCode, payload); err != nil {
		return tokenEndpointPayload{}, err
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, core.NewPermanentProviderError(
			fmt.Sprintf("provider %s token response missing access token", a.cfg.ID),
		)
	}
	return payload, nil
}

// classifyTokenEndpointError maps an OAuth token endpoint failure onto the
// refresh failure taxonomy: invalid_grant means the user must reauthorize,
// 429 and 5xx are retryable, everything else is permanent.
func classifyTokenEndpointError(providerID string, statusCode int, payload tokenEndpointPayload) error {
	detail := describeTokenError(payload)
	errorCode := strings.ToLower(strings.TrimSpace(payload.ErrorCode))

	switch errorCode {
	case "invalid_grant", "invalid_token", "unauthorized_client":
		return core.NewAuthFailureError(
			fmt.Sprintf("provider %s rejected refresh token: %s", providerID, detail),
		)
	case "temporarily_unavailable":
		return core.NewTransientProviderError(
			fmt.Sprintf("provider %s token endpoint unavailable: %s", providerID, detail),
		)
	}

	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		if errorCode == "" {
			return nil
		}
		return core.NewPermanentProviderError(
			fmt.Sprintf("provider %s token endpoint error: %s", providerID, detail),
		)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.NewAuthFailureError(
			fmt.Sprintf("provider %s rejected refresh (%d): %s", providerID, statusCode, detail),
		)
	case statusCode == http.StatusTooManyRequests:
		return core.NewRateLimitedError(
			fmt.Sprintf("provider %s token endpoint rate limited: %s", providerID, detail),
		)
	case statusCode >= http.StatusInternalServerError:
		return core.NewTransientProviderError(
			fmt.Sprintf("provider %s token endpoint error (%d): %s", providerID, statusCode, detail),
		)
	default:
		return core.NewPermanentProviderError(
			fmt.Sprintf("provider %s token endpoint error (%d): %s", providerID, statusCode, detail),
		)
	}
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func (a *OAuth2Adapter) resolveExpiresAt(now time.Time, expiresIn int64) *time.Time {
	ttl := a.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(strings.ToLower(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

var _ core.ProviderAdapter = (*OAuth2Adapter)(nil)
