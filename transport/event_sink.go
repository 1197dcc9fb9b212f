package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const defaultSinkTimeout = 15 * time.Second

// SinkConfig describes where verified trigger notifications are
// forwarded for workflow execution.
type SinkConfig struct {
	// Kind selects the delivery protocol, "rest" by default.
	Kind     string
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	// Query is the mutation a graphql endpoint expects; the event
	// envelope is passed as the "event" variable.
	Query string
}

// EventSink forwards trigger events to the workflow engine over a
// registry-selected protocol adapter.
type EventSink struct {
	registry *Registry
	cfg      SinkConfig
}

func NewEventSink(registry *Registry, cfg SinkConfig) (*EventSink, error) {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	cfg.Kind = normalizeKind(cfg.Kind)
	if cfg.Kind == "" {
		cfg.Kind = KindREST
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transport: event sink endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSinkTimeout
	}
	if cfg.Kind == KindGraphQL && strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("transport: event sink graphql query is required")
	}
	return &EventSink{registry: registry, cfg: cfg}, nil
}

func (s *EventSink) Deliver(ctx context.Context, event core.TriggerEvent) error {
	if s == nil || s.registry == nil {
		return fmt.Errorf("transport: event sink is not configured")
	}

	adapter, err := s.registry.Build(s.cfg.Kind, nil)
	if err != nil {
		return err
	}

	// Client state stays between the provider and this service; the
	// workflow engine only sees the verified event.
	envelope := map[string]any{
		"provider":    event.Provider,
		"external_id": event.ExternalID,
		"event_type":  event.EventType,
		"payload":     event.Payload,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339),
	}

	req := Request{
		Method:   http.MethodPost,
		URL:      s.cfg.Endpoint,
		Headers:  mergeHeaders(map[string]string{"Content-Type": "application/json"}, s.cfg.Headers),
		Timeout:  s.cfg.Timeout,
		Metadata: map[string]any{},
	}
	if s.cfg.Kind == KindGraphQL {
		req.Metadata["query"] = s.cfg.Query
		req.Metadata["variables"] = map[string]any{"event": envelope}
	} else {
		body, err := json.Marshal(envelope)
		if err != nil {
			return transportWrapError(
				err,
				goerrors.CategoryBadInput,
				"transport: marshal trigger event",
				http.StatusBadRequest,
				map[string]any{"provider": event.Provider},
			)
		}
		req.Body = body
	}

	res, err := adapter.Do(ctx, req)
	if err != nil {
		return err
	}
	switch {
	case res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices:
		return nil
	case res.StatusCode == http.StatusTooManyRequests:
		return core.NewRateLimitedError("transport: workflow engine rate limited event delivery")
	default:
		return core.NewTransientProviderError(
			fmt.Sprintf("transport: workflow engine rejected event delivery (%d)", res.StatusCode),
		)
	}
}

func mergeHeaders(base map[string]string, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		if strings.TrimSpace(key) == "" {
			continue
		}
		merged[key] = value
	}
	return merged
}

var _ core.TriggerEventSink = (*EventSink)(nil)
