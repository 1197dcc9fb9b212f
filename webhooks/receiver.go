package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// EventService is the slice of the integration service the receiver needs.
type EventService interface {
	HandleTriggerEvent(ctx context.Context, event core.TriggerEvent) error
	HandleTriggerLifecycleEvent(ctx context.Context, event core.TriggerLifecycleEvent) error
}

// Receiver handles one inbound surface for a set of provider webhook
// templates. Verified deliveries are always acknowledged with a 2xx,
// even when individual notifications are rejected or their downstream
// processing fails: providers stop delivering after repeated error
// responses. Only unknown providers and failed verification surface as
// errors.
type Receiver struct {
	Service EventService
	Burst   BurstController
	Logger  core.Logger

	surface   string
	templates map[string]ProviderWebhookTemplate
}

func NewReceiver(surface string, service EventService, templates ...ProviderWebhookTemplate) *Receiver {
	receiver := &Receiver{
		Service:   service,
		surface:   strings.TrimSpace(strings.ToLower(surface)),
		templates: map[string]ProviderWebhookTemplate{},
	}
	for _, template := range templates {
		receiver.RegisterTemplate(template)
	}
	return receiver
}

func (r *Receiver) Surface() string {
	if r == nil {
		return ""
	}
	return r.surface
}

func (r *Receiver) RegisterTemplate(template ProviderWebhookTemplate) {
	if r == nil {
		return
	}
	provider := strings.TrimSpace(strings.ToLower(template.Provider))
	if provider == "" {
		return
	}
	r.templates[provider] = template
}

func (r *Receiver) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if r == nil || r.Service == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: receiver requires an event service")
	}
	provider := strings.TrimSpace(strings.ToLower(req.Provider))
	if provider == "" {
		return core.InboundResult{}, fmt.Errorf("webhooks: provider is required")
	}
	template, ok := r.templates[provider]
	if !ok {
		return core.InboundResult{}, fmt.Errorf("webhooks: no template registered for provider %q", provider)
	}

	// Validation probes are answered before verification: they carry no
	// signature and must be echoed promptly or the subscription is lost.
	if template.Handshake != nil {
		if reply, isProbe := template.Handshake(req); isProbe {
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Body:       reply.Body,
				Metadata: map[string]any{
					"provider":  provider,
					"handshake": true,
					"content_type": func() string {
						if reply.ContentType != "" {
							return reply.ContentType
						}
						return "text/plain"
					}(),
				},
			}, nil
		}
	}

	if template.Verifier != nil {
		if err := template.Verifier.Verify(ctx, req); err != nil {
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"provider": provider,
					"rejected": true,
				},
			}, err
		}
	}

	if r.Burst != nil {
		decision, err := r.Burst.Allow(ctx, req)
		if err != nil {
			return core.InboundResult{}, err
		}
		if !decision.Allow {
			metadata := ensureResultMetadata(decision.Metadata)
			metadata["provider"] = provider
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata:   metadata,
			}, nil
		}
	}

	if template.Parser == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: no parser registered for provider %q", provider)
	}
	notification, err := template.Parser.Parse(ctx, req)
	if err != nil {
		// A verified but undecodable delivery will never improve on
		// retry; acknowledge it so the provider keeps the subscription.
		r.logWarn(ctx, "dropping undecodable delivery", "provider", provider, "error", err.Error())
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider": provider,
				"ignored":  true,
			},
		}, nil
	}

	delivered, rejected, failed := 0, 0, 0
	for _, event := range notification.Lifecycle {
		if err := r.Service.HandleTriggerLifecycleEvent(ctx, event); err != nil {
			if isRejectedNotification(err) {
				rejected++
				r.logWarn(ctx, "rejected lifecycle notification",
					"provider", provider, "external_id", event.ExternalID, "error", err.Error())
				continue
			}
			// An error response makes the provider retry or drop the
			// subscription; acknowledge and let the retry queue catch up.
			failed++
			r.logWarn(ctx, "lifecycle notification failed",
				"provider", provider, "external_id", event.ExternalID, "error", err.Error())
			continue
		}
		delivered++
	}
	for _, event := range notification.Events {
		if err := r.Service.HandleTriggerEvent(ctx, event); err != nil {
			if isRejectedNotification(err) {
				rejected++
				r.logWarn(ctx, "rejected trigger notification",
					"provider", provider, "external_id", event.ExternalID, "error", err.Error())
				continue
			}
			failed++
			r.logWarn(ctx, "trigger notification failed",
				"provider", provider, "external_id", event.ExternalID, "error", err.Error())
			continue
		}
		delivered++
	}

	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata: map[string]any{
			"provider":  provider,
			"delivered": delivered,
			"rejected":  rejected,
			"failed":    failed,
		},
	}, nil
}

// isRejectedNotification reports whether a notification failed for a
// reason redelivery cannot fix: the resource is unknown or the client
// state does not match.
func isRejectedNotification(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrTriggerResourceNotFound) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.TextCode {
		case core.IntegrationErrorClientStateMismatch, core.IntegrationErrorNotFound:
			return true
		}
	}
	return false
}

func (r *Receiver) logWarn(ctx context.Context, message string, args ...any) {
	if r == nil || r.Logger == nil {
		return
	}
	logger := r.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Warn(message, args...)
}

func ensureResultMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}
