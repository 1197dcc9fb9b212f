package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// NewTrelloWebhookTemplate handles Trello webhook deliveries. Trello signs
// each delivery with base64(HMAC-SHA1(body + callbackURL)) in the
// X-Trello-Webhook header, keyed by the application secret, so the verifier
// must be configured with the exact callback URL the webhook was registered
// with.
func NewTrelloWebhookTemplate(secret, callbackURL string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		Provider: "trello",
		Verifier: HeaderHMACVerifier{
			Header:          "X-Trello-Webhook",
			Secret:          strings.TrimSpace(secret),
			Hash:            "sha1",
			Encoding:        "base64",
			TrailingPayload: strings.TrimSpace(callbackURL),
		},
		Parser: TrelloNotificationParser{},
	}
}

// TrelloNotificationParser decodes a Trello action delivery. The payload
// does not name the webhook that produced it, so the transport layer must
// place the webhook id from the callback URL path into request metadata as
// external_id; the board id from the model block is the fallback.
type TrelloNotificationParser struct{}

type trelloDelivery struct {
	Action struct {
		ID   string         `json:"id"`
		Type string         `json:"type"`
		Date string         `json:"date"`
		Data map[string]any `json:"data"`
	} `json:"action"`
	Model struct {
		ID string `json:"id"`
	} `json:"model"`
}

func (TrelloNotificationParser) Parse(_ context.Context, req core.InboundRequest) (Notification, error) {
	var delivery trelloDelivery
	if err := json.Unmarshal(req.Body, &delivery); err != nil {
		return Notification{}, fmt.Errorf("webhooks: decode trello delivery: %w", err)
	}
	if strings.TrimSpace(delivery.Action.Type) == "" {
		return Notification{}, nil
	}

	externalID := ""
	if req.Metadata != nil {
		externalID = strings.TrimSpace(fmt.Sprint(req.Metadata["external_id"]))
		if externalID == "<nil>" {
			externalID = ""
		}
	}
	if externalID == "" {
		externalID = strings.TrimSpace(delivery.Model.ID)
	}
	if externalID == "" {
		return Notification{}, fmt.Errorf("webhooks: trello delivery is missing an external id")
	}

	occurredAt := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(delivery.Action.Date)); err == nil {
		occurredAt = parsed.UTC()
	}

	payload := map[string]any{
		"action_id": delivery.Action.ID,
		"model_id":  delivery.Model.ID,
	}
	if len(delivery.Action.Data) > 0 {
		payload["data"] = delivery.Action.Data
	}
	return Notification{
		Events: []core.TriggerEvent{{
			Provider:   "trello",
			ExternalID: externalID,
			EventType:  strings.TrimSpace(delivery.Action.Type),
			Payload:    payload,
			OccurredAt: occurredAt,
		}},
	}, nil
}
