package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// NewMicrosoftWebhookTemplate handles Microsoft Graph change notifications.
// Graph does not sign deliveries; authenticity is established by answering
// the validation handshake and by the per-subscription client state, which
// the integration service checks before acting on any notification.
func NewMicrosoftWebhookTemplate() ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		Provider:  "microsoft",
		Handshake: GraphValidationHandshake,
		Parser:    GraphNotificationParser{},
	}
}

// GraphValidationHandshake answers the subscription validation probe. Graph
// requires the validationToken echoed back as text/plain within 10 seconds
// or the subscription is never created.
func GraphValidationHandshake(req core.InboundRequest) (*HandshakeReply, bool) {
	if req.Query == nil {
		return nil, false
	}
	token := strings.TrimSpace(req.Query["validationToken"])
	if token == "" {
		return nil, false
	}
	return &HandshakeReply{
		ContentType: "text/plain",
		Body:        []byte(token),
	}, true
}

// GraphNotificationParser decodes the batched value envelope Graph posts to
// the notification URL. Entries carrying a lifecycleEvent become lifecycle
// notices; the rest become change events.
type GraphNotificationParser struct {
	Now func() time.Time
}

type graphNotificationEnvelope struct {
	Value []graphNotification `json:"value"`
}

type graphNotification struct {
	SubscriptionID string         `json:"subscriptionId"`
	ClientState    string         `json:"clientState"`
	ChangeType     string         `json:"changeType"`
	Resource       string         `json:"resource"`
	ResourceData   map[string]any `json:"resourceData"`
	LifecycleEvent string         `json:"lifecycleEvent"`
	ExpiresAt      string         `json:"subscriptionExpirationDateTime"`
}

func (p GraphNotificationParser) Parse(_ context.Context, req core.InboundRequest) (Notification, error) {
	var envelope graphNotificationEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return Notification{}, fmt.Errorf("webhooks: decode graph notification: %w", err)
	}

	occurredAt := p.now()
	var parsed Notification
	for _, entry := range envelope.Value {
		externalID := strings.TrimSpace(entry.SubscriptionID)
		if externalID == "" {
			continue
		}
		if kind := strings.TrimSpace(entry.LifecycleEvent); kind != "" {
			parsed.Lifecycle = append(parsed.Lifecycle, core.TriggerLifecycleEvent{
				Provider:    "microsoft",
				ExternalID:  externalID,
				ClientState: entry.ClientState,
				Kind:        kind,
				Resource:    entry.ResourceData,
				OccurredAt:  occurredAt,
			})
			continue
		}
		payload := map[string]any{
			"resource": entry.Resource,
		}
		if len(entry.ResourceData) > 0 {
			payload["resource_data"] = entry.ResourceData
		}
		if expires := strings.TrimSpace(entry.ExpiresAt); expires != "" {
			payload["subscription_expires_at"] = expires
		}
		parsed.Events = append(parsed.Events, core.TriggerEvent{
			Provider:    "microsoft",
			ExternalID:  externalID,
			ClientState: entry.ClientState,
			EventType:   strings.TrimSpace(entry.ChangeType),
			Payload:     payload,
			OccurredAt:  occurredAt,
		})
	}
	return parsed, nil
}

func (p GraphNotificationParser) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
