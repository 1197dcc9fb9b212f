// Package microsoft implements the Microsoft Graph provider adapter. Graph
// change-notification subscriptions expire after a provider-enforced maximum
// lifetime and must be renewed in place, and every delivery echoes back the
// clientState supplied at registration.
package microsoft

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

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/providers"
)

const (
	ProviderID = "microsoft"

	TokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	GraphURL    = "https://graph.microsoft.com/v1.0"
	ValidateURL = "https://graph.microsoft.com/v1.0/me"

	// Graph caps subscription lifetime; messages allow at most 4230 minutes.
	maxSubscriptionLifetime = 4230 * time.Minute
	defaultLifetime         = 4200 * time.Minute

	maxResponseBodyBytes = 1 << 20
)

var triggerResources = map[string]struct {
	resource   string
	changeType string
}{
	"email_received":   {resource: "me/mailFolders('Inbox')/messages", changeType: "created"},
	"calendar_updated": {resource: "me/events", changeType: "created,updated,deleted"},
	"file_changed":     {resource: "me/drive/root", changeType: "updated"},
	"chat_message":     {resource: "me/chats/getAllMessages", changeType: "created"},
}

type Config struct {
	ClientID       string
	ClientSecret   string
	TokenURL       string
	GraphURL       string
	ValidateURL    string
	Lifetime       time.Duration
	RequestTimeout time.Duration
	Now            func() time.Time
	HTTPClient     providers.HTTPDoer
}

type Adapter struct {
	*providers.OAuth2Adapter

	cfg        Config
	httpClient providers.HTTPDoer
}

func New(cfg Config) (*Adapter, error) {
	if cfg.TokenURL == "" {
		cfg.TokenURL = TokenURL
	}
	cfg.GraphURL = strings.TrimRight(strings.TrimSpace(cfg.GraphURL), "/")
	if cfg.GraphURL == "" {
		cfg.GraphURL = GraphURL
	}
	if cfg.ValidateURL == "" {
		cfg.ValidateURL = ValidateURL
	}
	if cfg.Lifetime <= 0 || cfg.Lifetime > maxSubscriptionLifetime {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	oauth, err := providers.NewOAuth2Adapter(providers.OAuth2Config{
		ID:                  ProviderID,
		TokenURL:            cfg.TokenURL,
		ValidateURL:         cfg.ValidateURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		ClientSecretInBody:  true,
		TokenRequestTimeout: cfg.RequestTimeout,
		Now:                 cfg.Now,
		HTTPClient:          cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Adapter{
		OAuth2Adapter: oauth,
		cfg:           cfg,
		httpClient:    httpClient,
	}, nil
}

func (a *Adapter) ID() string {
	return ProviderID
}

func (a *Adapter) ValidateTriggerConfig(triggerType string, config map[string]any) error {
	triggerType = strings.TrimSpace(triggerType)
	if _, ok := triggerResources[triggerType]; ok {
		return nil
	}
	// Unknown trigger types are allowed when the config spells out the
	// subscription explicitly.
	if readString(config, "resource") == "" || readString(config, "changeType") == "" {
		return core.NewConfigurationError(
			fmt.Sprintf("microsoft trigger type %q requires resource and changeType config", triggerType),
		)
	}
	return nil
}

func (a *Adapter) RegisterTrigger(ctx context.Context, req core.RegisterTriggerRequest) (core.TriggerRegistration, error) {
	if err := a.ValidateTriggerConfig(req.TriggerType, req.Config); err != nil {
		return core.TriggerRegistration{}, err
	}
	resource, changeType := a.resolveSubscriptionTarget(req.TriggerType, req.Config)
	expiresAt := a.cfg.Now().UTC().Add(a.cfg.Lifetime)

	payload := map[string]any{
		"changeType":         changeType,
		"notificationUrl":    req.CallbackURL,
		"resource":           resource,
		"expirationDateTime": expiresAt.Format(time.RFC3339),
		"clientState":        req.ClientState,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.TriggerRegistration{}, err
	}

	response, err := a.do(ctx, http.MethodPost, a.cfg.GraphURL+"/subscriptions", req.Token, body)
	if err != nil {
		return core.TriggerRegistration{}, err
	}
	defer drainAndClose(response)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return core.TriggerRegistration{}, statusError(response.StatusCode, "create subscription")
	}

	var decoded subscriptionPayload
	if err := decodeJSON(response, &decoded); err != nil {
		return core.TriggerRegistration{}, core.NewPermanentProviderError(
			fmt.Sprintf("microsoft subscription response decode failed: %v", err),
		)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return core.TriggerRegistration{}, core.NewPermanentProviderError("microsoft subscription response missing id")
	}

	return core.TriggerRegistration{
		ExternalID:  decoded.ID,
		ClientState: decoded.ClientState,
		ExpiresAt:   decoded.expiresAt(),
		Metadata: map[string]any{
			"resource":   decoded.Resource,
			"changeType": decoded.ChangeType,
		},
	}, nil
}

func (a *Adapter) RenewTrigger(ctx context.Context, req core.RenewTriggerRequest) (core.TriggerRegistration, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return core.TriggerRegistration{}, core.ErrTriggerResourceNotFound
	}
	expiresAt := a.cfg.Now().UTC().Add(a.cfg.Lifetime)
	body, err := json.Marshal(map[string]any{
		"expirationDateTime": expiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return core.TriggerRegistration{}, err
	}

	endpoint := a.cfg.GraphURL + "/subscriptions/" + url.PathEscape(externalID)
	response, err := a.do(ctx, http.MethodPatch, endpoint, req.Token, body)
	if err != nil {
		return core.TriggerRegistration{}, err
	}
	defer drainAndClose(response)

	switch {
	case response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices:
	case response.StatusCode == http.StatusNotFound:
		return core.TriggerRegistration{}, core.ErrTriggerResourceNotFound
	default:
		return core.TriggerRegistration{}, statusError(response.StatusCode, "renew subscription")
	}

	var decoded subscriptionPayload
	if err := decodeJSON(response, &decoded); err != nil {
		return core.TriggerRegistration{}, core.NewPermanentProviderError(
			fmt.Sprintf("microsoft renewal response decode failed: %v", err),
		)
	}
	registration := core.TriggerRegistration{
		ExternalID:  externalID,
		ClientState: decoded.ClientState,
		ExpiresAt:   decoded.expiresAt(),
	}
	if registration.ExpiresAt == nil {
		registration.ExpiresAt = &expiresAt
	}
	return registration, nil
}

func (a *Adapter) DeleteTrigger(ctx context.Context, req core.DeleteTriggerRequest) error {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return core.ErrTriggerResourceNotFound
	}
	endpoint := a.cfg.GraphURL + "/subscriptions/" + url.PathEscape(externalID)
	response, err := a.do(ctx, http.MethodDelete, endpoint, req.Token, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(response)

	switch {
	case response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices:
		return nil
	case response.StatusCode == http.StatusNotFound:
		return core.ErrTriggerResourceNotFound
	default:
		return statusError(response.StatusCode, "delete subscription")
	}
}

func (a *Adapter) ListTriggers(ctx context.Context, req core.ListRemoteTriggersRequest) ([]core.RemoteTrigger, error) {
	response, err := a.do(ctx, http.MethodGet, a.cfg.GraphURL+"/subscriptions", req.Token, nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(response)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(response.StatusCode, "list subscriptions")
	}

	var decoded struct {
		Value []subscriptionPayload `json:"value"`
	}
	if err := decodeJSON(response, &decoded); err != nil {
		return nil, core.NewPermanentProviderError(
			fmt.Sprintf("microsoft subscription list decode failed: %v", err),
		)
	}

	out := make([]core.RemoteTrigger, 0, len(decoded.Value))
	for _, subscription := range decoded.Value {
		out = append(out, core.RemoteTrigger{
			ExternalID:  subscription.ID,
			CallbackURL: subscription.NotificationURL,
			ExpiresAt:   subscription.expiresAt(),
			Metadata: map[string]any{
				"resource":   subscription.Resource,
				"changeType": subscription.ChangeType,
			},
		})
	}
	return out, nil
}

func (a *Adapter) resolveSubscriptionTarget(triggerType string, config map[string]any) (string, string) {
	resource := readString(config, "resource")
	changeType := readString(config, "changeType")
	if known, ok := triggerResources[strings.TrimSpace(triggerType)]; ok {
		if resource == "" {
			resource = known.resource
		}
		if changeType == "" {
			changeType = known.changeType
		}
	}
	return resource, changeType
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, token core.ActiveToken, body []byte) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token.AccessToken))
	httpReq.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	response, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransientProviderError(fmt.Sprintf("microsoft graph request failed: %v", err))
	}
	return response, nil
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	ClientState        string `json:"clientState"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

func (p subscriptionPayload) expiresAt() *time.Time {
	trimmed := strings.TrimSpace(p.ExpirationDateTime)
	if trimmed == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

func statusError(statusCode int, operation string) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.NewAuthFailureError(fmt.Sprintf("microsoft %s unauthorized (%d)", operation, statusCode))
	case statusCode == http.StatusTooManyRequests:
		return core.NewRateLimitedError(fmt.Sprintf("microsoft %s rate limited", operation))
	case statusCode >= http.StatusInternalServerError:
		return core.NewTransientProviderError(fmt.Sprintf("microsoft %s failed (%d)", operation, statusCode))
	default:
		return core.NewPermanentProviderError(fmt.Sprintf("microsoft %s failed (%d)", operation, statusCode))
	}
}

func decodeJSON(response *http.Response, target any) error {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}

func drainAndClose(response *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))
	_ = response.Body.Close()
}

func readString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var (
	_ core.ProviderAdapter = (*Adapter)(nil)
	_ core.TriggerProvider = (*Adapter)(nil)
	_ core.TriggerRenewer  = (*Adapter)(nil)
)
