// Package identity resolves the external account behind a connected
// credential. The profile feeds audit metadata and lets callers show
// which provider account a workflow acts as.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	maxProfileResponseBytes = 1 << 20 // 1 MiB
	microsoftIssuer         = "https://login.microsoftonline.com"
	trelloIssuer            = "https://trello.com"
	microsoftProfileURL     = "https://graph.microsoft.com/v1.0/me"
	trelloProfileURL        = "https://api.trello.com/1/members/me"
)

var ErrProfileNotFound = errors.New("identity: profile not found")

type ProfileNotFoundError struct {
	Cause error
}

func (e *ProfileNotFoundError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrProfileNotFound.Error()
	}
	return ErrProfileNotFound.Error() + ": " + e.Cause.Error()
}

func (e *ProfileNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrProfileNotFound
	}
	return errors.Join(ErrProfileNotFound, e.Cause)
}

func (e *ProfileNotFoundError) ToIntegrationError() *goerrors.Error {
	message := ErrProfileNotFound.Error()
	if e != nil && e.Cause != nil {
		message = e.Error()
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.IntegrationErrorNotFound)
}

func profileNotFound(cause error) error {
	return &ProfileNotFoundError{Cause: cause}
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AccountProfile is the normalized identity a provider reports for the
// account a credential belongs to.
type AccountProfile struct {
	Provider   string
	Issuer     string
	Subject    string
	Email      string
	Name       string
	Username   string
	PictureURL string
	Locale     string
	Raw        map[string]any
}

func (p AccountProfile) ExternalAccountID() string {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		return ""
	}
	issuer := strings.TrimSpace(p.Issuer)
	if issuer == "" {
		return subject
	}
	return issuer + "|" + subject
}

func (p AccountProfile) Map() map[string]any {
	metadata := map[string]any{
		"provider":    strings.TrimSpace(p.Provider),
		"issuer":      strings.TrimSpace(p.Issuer),
		"subject":     strings.TrimSpace(p.Subject),
		"external_id": strings.TrimSpace(p.ExternalAccountID()),
		"email":       strings.TrimSpace(p.Email),
		"name":        strings.TrimSpace(p.Name),
		"username":    strings.TrimSpace(p.Username),
		"picture_url": strings.TrimSpace(p.PictureURL),
		"locale":      strings.TrimSpace(p.Locale),
	}
	if len(p.Raw) > 0 {
		metadata["raw"] = copyMap(p.Raw)
	}
	return metadata
}

type ProfileResolver interface {
	Resolve(ctx context.Context, provider string, token core.ActiveToken) (AccountProfile, error)
}

type ProfileNormalizer func(provider string, issuer string, payload map[string]any) AccountProfile

type ProviderProfileConfig struct {
	URL        string
	Issuer     string
	Normalizer ProfileNormalizer
}

type Config struct {
	HTTPClient      HTTPDoer
	RequestTimeout  time.Duration
	ProviderProfile map[string]ProviderProfileConfig
}

type Resolver struct {
	httpClient      HTTPDoer
	requestTimeout  time.Duration
	providerProfile map[string]ProviderProfileConfig
}

func NewResolver(cfg Config) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	providerProfile := defaultProviderProfileConfigs()
	for key, value := range cfg.ProviderProfile {
		normalizedID := normalizeProvider(key)
		if normalizedID == "" {
			continue
		}
		providerProfile[normalizedID] = ProviderProfileConfig{
			URL:        strings.TrimSpace(value.URL),
			Issuer:     strings.TrimSpace(value.Issuer),
			Normalizer: value.Normalizer,
		}
	}

	return &Resolver{
		httpClient:      httpClient,
		requestTimeout:  requestTimeout,
		providerProfile: providerProfile,
	}
}

func DefaultResolver() *Resolver {
	return NewResolver(Config{})
}

// Resolve prefers claims carried in an id_token when the token metadata
// has one, and falls back to the provider's profile endpoint.
func (r *Resolver) Resolve(ctx context.Context, provider string, token core.ActiveToken) (AccountProfile, error) {
	if r == nil {
		return AccountProfile{}, profileNotFound(nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	normalizedProvider := normalizeProvider(provider)
	if normalizedProvider == "" {
		normalizedProvider = normalizeProvider(token.Provider)
	}

	profile, tokenErr := r.profileFromIDToken(normalizedProvider, token.Metadata)
	if tokenErr == nil && strings.TrimSpace(profile.Subject) != "" {
		return profile, nil
	}

	endpointConfig, hasProviderEndpoint := r.providerProfile[normalizedProvider]
	if !hasProviderEndpoint || strings.TrimSpace(endpointConfig.URL) == "" {
		if tokenErr != nil {
			return AccountProfile{}, profileNotFound(tokenErr)
		}
		return AccountProfile{}, profileNotFound(fmt.Errorf("identity: no profile endpoint for provider %q", normalizedProvider))
	}

	payload, fetchErr := r.fetchProfile(ctx, endpointConfig.URL, strings.TrimSpace(token.AccessToken))
	if fetchErr != nil {
		return AccountProfile{}, profileNotFound(fetchErr)
	}

	issuer := strings.TrimSpace(readString(payload["iss"]))
	if issuer == "" {
		issuer = strings.TrimSpace(endpointConfig.Issuer)
	}
	if issuer == "" {
		issuer = defaultIssuerForProvider(normalizedProvider)
	}
	normalizer := endpointConfig.Normalizer
	if normalizer == nil {
		normalizer = normalizeOIDCProfile
	}
	profile = normalizer(normalizedProvider, issuer, payload)
	if strings.TrimSpace(profile.Subject) == "" {
		return AccountProfile{}, profileNotFound(nil)
	}
	return profile, nil
}

func defaultProviderProfileConfigs() map[string]ProviderProfileConfig {
	return map[string]ProviderProfileConfig{
		"microsoft": {
			URL:        microsoftProfileURL,
			Issuer:     microsoftIssuer,
			Normalizer: normalizeGraphProfile,
		},
		"trello": {
			URL:        trelloProfileURL,
			Issuer:     trelloIssuer,
			Normalizer: normalizeTrelloProfile,
		},
	}
}

func (r *Resolver) fetchProfile(ctx context.Context, endpoint string, accessToken string) (map[string]any, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("identity: access token is required")
	}
	requestCtx := ctx
	cancel := func() {}
	if r.requestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
	}
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxProfileResponseBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("identity: read profile response: %w", readErr)
	}
	if int64(len(body)) > maxProfileResponseBytes {
		return nil, fmt.Errorf("identity: profile response exceeds %d bytes", maxProfileResponseBytes)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("identity: profile endpoint returned status %d", res.StatusCode)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode profile response: %w", err)
	}
	return payload, nil
}

func (r *Resolver) profileFromIDToken(provider string, metadata map[string]any) (AccountProfile, error) {
	idToken := ""
	if metadata != nil {
		idToken = strings.TrimSpace(readString(metadata["id_token"]))
	}
	if idToken == "" {
		return AccountProfile{}, fmt.Errorf("identity: id_token is required")
	}
	payload, err := decodeJWTPayload(idToken)
	if err != nil {
		return AccountProfile{}, err
	}
	issuer := strings.TrimSpace(readString(payload["iss"]))
	if issuer == "" {
		issuer = defaultIssuerForProvider(provider)
	}
	profile := normalizeOIDCProfile(provider, issuer, payload)
	if strings.TrimSpace(profile.Subject) == "" {
		return AccountProfile{}, fmt.Errorf("identity: id_token is missing subject")
	}
	return profile, nil
}

func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("identity: invalid id_token format")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("identity: decode id_token payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode id_token claims: %w", err)
	}
	return payload, nil
}

func normalizeOIDCProfile(provider string, issuer string, payload map[string]any) AccountProfile {
	profile := AccountProfile{
		Provider:   normalizeProvider(provider),
		Issuer:     strings.TrimSpace(issuer),
		Subject:    strings.TrimSpace(readString(payload["sub"])),
		Email:      strings.TrimSpace(readString(payload["email"])),
		Name:       strings.TrimSpace(readString(payload["name"])),
		Username:   strings.TrimSpace(readString(payload["preferred_username"])),
		PictureURL: strings.TrimSpace(readString(payload["picture"])),
		Locale:     strings.TrimSpace(readString(payload["locale"])),
		Raw:        copyMap(payload),
	}
	return profile
}

func normalizeGraphProfile(provider string, issuer string, payload map[string]any) AccountProfile {
	email := strings.TrimSpace(readString(payload["mail"]))
	if email == "" {
		email = strings.TrimSpace(readString(payload["userPrincipalName"]))
	}
	return AccountProfile{
		Provider: normalizeProvider(provider),
		Issuer:   strings.TrimSpace(issuer),
		Subject:  strings.TrimSpace(readString(payload["id"])),
		Email:    email,
		Name:     strings.TrimSpace(readString(payload["displayName"])),
		Username: strings.TrimSpace(readString(payload["userPrincipalName"])),
		Locale:   strings.TrimSpace(readString(payload["preferredLanguage"])),
		Raw:      copyMap(payload),
	}
}

func normalizeTrelloProfile(provider string, issuer string, payload map[string]any) AccountProfile {
	name := strings.TrimSpace(readString(payload["fullName"]))
	username := strings.TrimSpace(readString(payload["username"]))
	if name == "" {
		name = username
	}
	return AccountProfile{
		Provider:   normalizeProvider(provider),
		Issuer:     strings.TrimSpace(issuer),
		Subject:    strings.TrimSpace(readString(payload["id"])),
		Email:      strings.TrimSpace(readString(payload["email"])),
		Name:       name,
		Username:   username,
		PictureURL: strings.TrimSpace(readString(payload["avatarUrl"])),
		Raw:        copyMap(payload),
	}
}

func defaultIssuerForProvider(provider string) string {
	switch normalizeProvider(provider) {
	case "microsoft":
		return microsoftIssuer
	case "trello":
		return trelloIssuer
	default:
		return ""
	}
}

func normalizeProvider(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func copyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return map[string]any{}
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	case json.Number:
		return strings.TrimSpace(typed.String())
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}
