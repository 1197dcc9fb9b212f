// Package trello implements the Trello provider adapter. Trello exposes
// board-scoped webhooks keyed to an idModel; the tokens themselves are
// long-lived and have no refresh grant.
package trello

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
	ProviderID = "trello"
	BaseURL    = "https://api.trello.com/1"

	maxResponseBodyBytes = 1 << 20
)

var triggerTypes = map[string]struct{}{
	"card_created": {},
	"card_moved":   {},
	"card_updated": {},
	"card_deleted": {},
}

type Config struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     providers.HTTPDoer
}

type Adapter struct {
	cfg        Config
	httpClient providers.HTTPDoer
}

func New(cfg Config) (*Adapter, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("trello: api key is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Adapter{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (a *Adapter) ID() string {
	return ProviderID
}

// RefreshToken always fails closed: Trello member tokens are issued without
// a refresh grant, so an invalid token means the user must reconnect.
func (a *Adapter) RefreshToken(_ context.Context, _ core.ActiveToken) (core.RefreshOutcome, error) {
	return core.RefreshOutcome{}, core.NewAuthFailureError("trello tokens cannot be refreshed; reconnect the integration")
}

func (a *Adapter) ValidateToken(ctx context.Context, token core.ActiveToken) (core.TokenValidation, error) {
	if strings.TrimSpace(token.AccessToken) == "" {
		return core.TokenValidation{Valid: false, Reason: "missing access token"}, nil
	}
	endpoint := fmt.Sprintf("%s/members/me?%s", a.cfg.BaseURL, a.authQuery(token).Encode())
	response, err := a.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.TokenValidation{}, err
	}
	defer drainAndClose(response)

	switch {
	case response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices:
		return core.TokenValidation{Valid: true, Scopes: append([]string(nil), token.Scopes...)}, nil
	case response.StatusCode == http.StatusUnauthorized:
		return core.TokenValidation{Valid: false, Reason: "trello rejected token (401)"}, nil
	default:
		return core.TokenValidation{}, statusError(response.StatusCode, "validate token")
	}
}

func (a *Adapter) ValidateTriggerConfig(triggerType string, config map[string]any) error {
	if _, ok := triggerTypes[strings.TrimSpace(triggerType)]; !ok {
		return core.NewConfigurationError(fmt.Sprintf("trello does not support trigger type %q", triggerType))
	}
	if strings.TrimSpace(readString(config, "boardId")) == "" {
		return core.NewConfigurationError("trello triggers require a boardId")
	}
	return nil
}

func (a *Adapter) RegisterTrigger(ctx context.Context, req core.RegisterTriggerRequest) (core.TriggerRegistration, error) {
	if err := a.ValidateTriggerConfig(req.TriggerType, req.Config); err != nil {
		return core.TriggerRegistration{}, err
	}
	payload := map[string]any{
		"description": fmt.Sprintf("workflow %s %s", req.WorkflowID, req.TriggerType),
		"callbackURL": req.CallbackURL,
		"idModel":     readString(req.Config, "boardId"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.TriggerRegistration{}, err
	}

	endpoint := fmt.Sprintf("%s/webhooks/?%s", a.cfg.BaseURL, a.authQuery(req.Token).Encode())
	response, err := a.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return core.TriggerRegistration{}, err
	}
	defer drainAndClose(response)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return core.TriggerRegistration{}, statusError(response.StatusCode, "register webhook")
	}

	var decoded struct {
		ID      string `json:"id"`
		IDModel string `json:"idModel"`
		Active  bool   `json:"active"`
	}
	if err := decodeJSON(response, &decoded); err != nil {
		return core.TriggerRegistration{}, core.NewPermanentProviderError(
			fmt.Sprintf("trello webhook response decode failed: %v", err),
		)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return core.TriggerRegistration{}, core.NewPermanentProviderError("trello webhook response missing id")
	}

	// Trello webhooks do not expire and carry no client state of their own;
	// the service verifies deliveries against the stored value instead.
	return core.TriggerRegistration{
		ExternalID:  decoded.ID,
		ClientState: req.ClientState,
		Metadata: map[string]any{
			"idModel": decoded.IDModel,
			"active":  decoded.Active,
		},
	}, nil
}

func (a *Adapter) DeleteTrigger(ctx context.Context, req core.DeleteTriggerRequest) error {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return core.ErrTriggerResourceNotFound
	}
	endpoint := fmt.Sprintf("%s/webhooks/%s?%s", a.cfg.BaseURL, url.PathEscape(externalID), a.authQuery(req.Token).Encode())
	response, err := a.do(ctx, http.MethodDelete, endpoint, nil)
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
		return statusError(response.StatusCode, "delete webhook")
	}
}

func (a *Adapter) ListTriggers(ctx context.Context, req core.ListRemoteTriggersRequest) ([]core.RemoteTrigger, error) {
	token := strings.TrimSpace(req.Token.AccessToken)
	if token == "" {
		return nil, core.NewAuthFailureError("trello listing requires an access token")
	}
	endpoint := fmt.Sprintf("%s/tokens/%s/webhooks?key=%s", a.cfg.BaseURL, url.PathEscape(token), url.QueryEscape(a.cfg.APIKey))
	response, err := a.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(response)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(response.StatusCode, "list webhooks")
	}

	var decoded []struct {
		ID          string `json:"id"`
		CallbackURL string `json:"callbackURL"`
		IDModel     string `json:"idModel"`
		Active      bool   `json:"active"`
	}
	if err := decodeJSON(response, &decoded); err != nil {
		return nil, core.NewPermanentProviderError(
			fmt.Sprintf("trello webhook list decode failed: %v", err),
		)
	}

	out := make([]core.RemoteTrigger, 0, len(decoded))
	for _, hook := range decoded {
		out = append(out, core.RemoteTrigger{
			ExternalID:  hook.ID,
			CallbackURL: hook.CallbackURL,
			Metadata: map[string]any{
				"idModel": hook.IDModel,
				"active":  hook.Active,
			},
		})
	}
	return out, nil
}

func (a *Adapter) authQuery(token core.ActiveToken) url.Values {
	values := url.Values{}
	values.Set("key", a.cfg.APIKey)
	values.Set("token", strings.TrimSpace(token.AccessToken))
	return values
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
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
	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	response, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransientProviderError(fmt.Sprintf("trello request failed: %v", err))
	}
	return response, nil
}

func statusError(statusCode int, operation string) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.NewAuthFailureError(fmt.Sprintf("trello %s unauthorized (%d)", operation, statusCode))
	case statusCode == http.StatusTooManyRequests:
		return core.NewRateLimitedError(fmt.Sprintf("trello %s rate limited", operation))
	case statusCode >= http.StatusInternalServerError:
		return core.NewTransientProviderError(fmt.Sprintf("trello %s failed (%d)", operation, statusCode))
	default:
		return core.NewPermanentProviderError(fmt.Sprintf("trello %s failed (%d)", operation, statusCode))
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
)
