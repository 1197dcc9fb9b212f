package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

type stubEventService struct {
	events       []core.TriggerEvent
	lifecycle    []core.TriggerLifecycleEvent
	eventErr     error
	lifecycleErr error
}

func (s *stubEventService) HandleTriggerEvent(_ context.Context, event core.TriggerEvent) error {
	s.events = append(s.events, event)
	return s.eventErr
}

func (s *stubEventService) HandleTriggerLifecycleEvent(_ context.Context, event core.TriggerLifecycleEvent) error {
	s.lifecycle = append(s.lifecycle, event)
	return s.lifecycleErr
}

func TestReceiver_AnswersGraphValidationHandshake(t *testing.T) {
	service := &stubEventService{}
	receiver := NewReceiver("webhook", service, NewMicrosoftWebhookTemplate())

	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  "webhook",
		Query:    map[string]string{"validationToken": "probe-token-123"},
	})
	if err != nil {
		t.Fatalf("handle handshake: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected handshake result: %+v", result)
	}
	if string(result.Body) != "probe-token-123" {
		t.Fatalf("expected validation token echo, got %q", result.Body)
	}
	if result.Metadata["content_type"] != "text/plain" {
		t.Fatalf("expected text/plain reply, got %v", result.Metadata["content_type"])
	}
	if len(service.events)+len(service.lifecycle) != 0 {
		t.Fatal("expected handshake to skip notification dispatch")
	}
}

func TestReceiver_DispatchesGraphNotificationBatch(t *testing.T) {
	service := &stubEventService{}
	receiver := NewReceiver("webhook", service, NewMicrosoftWebhookTemplate())

	body := []byte(`{"value":[
		{"subscriptionId":"sub-1","clientState":"state-1","changeType":"created",
		 "resource":"me/mailFolders('Inbox')/messages/abc",
		 "resourceData":{"id":"abc"}},
		{"subscriptionId":"sub-2","clientState":"state-2",
		 "lifecycleEvent":"reauthorizationRequired"}
	]}`)
	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  "webhook",
		Body:     body,
	})
	if err != nil {
		t.Fatalf("handle notification batch: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Metadata["delivered"] != 2 {
		t.Fatalf("expected two delivered notifications, got %v", result.Metadata["delivered"])
	}
	if len(service.events) != 1 {
		t.Fatalf("expected one change event, got %d", len(service.events))
	}
	event := service.events[0]
	if event.ExternalID != "sub-1" || event.EventType != "created" || event.ClientState != "state-1" {
		t.Fatalf("unexpected change event: %+v", event)
	}
	if event.Payload["resource"] != "me/mailFolders('Inbox')/messages/abc" {
		t.Fatalf("expected resource in payload, got %v", event.Payload)
	}
	if len(service.lifecycle) != 1 {
		t.Fatalf("expected one lifecycle event, got %d", len(service.lifecycle))
	}
	if service.lifecycle[0].Kind != core.TriggerLifecycleReauthorizationRequired {
		t.Fatalf("unexpected lifecycle kind: %q", service.lifecycle[0].Kind)
	}
}

func TestReceiver_RejectsBadTrelloSignature(t *testing.T) {
	service := &stubEventService{}
	receiver := NewReceiver("webhook", service,
		NewTrelloWebhookTemplate("app-secret", "https://hooks.example.com/trello/hook-1"))

	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "trello",
		Surface:  "webhook",
		Headers:  map[string]string{"X-Trello-Webhook": base64.StdEncoding.EncodeToString([]byte("bogus"))},
		Body:     []byte(`{"action":{"id":"a1","type":"updateCard"}}`),
	})
	if err == nil {
		t.Fatal("expected signature verification failure")
	}
	if result.Accepted || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized result, got %+v", result)
	}
	if len(service.events) != 0 {
		t.Fatal("expected no dispatch after failed verification")
	}
}

func TestReceiver_AcceptsSignedTrelloDelivery(t *testing.T) {
	const secret = "app-secret"
	const callbackURL = "https://hooks.example.com/trello/hook-1"
	body := []byte(`{"action":{"id":"act-1","type":"createCard","date":"2025-06-01T12:00:00.000Z","data":{"card":{"id":"card-1"}}},"model":{"id":"board-1"}}`)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	service := &stubEventService{}
	receiver := NewReceiver("webhook", service, NewTrelloWebhookTemplate(secret, callbackURL))

	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "trello",
		Surface:  "webhook",
		Headers:  map[string]string{"X-Trello-Webhook": signature},
		Body:     body,
		Metadata: map[string]any{"external_id": "hook-1"},
	})
	if err != nil {
		t.Fatalf("handle signed delivery: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(service.events) != 1 {
		t.Fatalf("expected one event, got %d", len(service.events))
	}
	event := service.events[0]
	if event.ExternalID != "hook-1" || event.EventType != "createCard" {
		t.Fatalf("unexpected event: %+v", event)
	}
	wantOccurredAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !event.OccurredAt.Equal(wantOccurredAt) {
		t.Fatalf("unexpected occurred at: %v", event.OccurredAt)
	}
}

func TestReceiver_AcknowledgesRejectedNotifications(t *testing.T) {
	service := &stubEventService{
		eventErr: core.NewClientStateMismatchError("trigger event client state mismatch"),
	}
	receiver := NewReceiver("webhook", service, NewMicrosoftWebhookTemplate())

	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  "webhook",
		Body:     []byte(`{"value":[{"subscriptionId":"sub-1","clientState":"wrong","changeType":"updated"}]}`),
	})
	if err != nil {
		t.Fatalf("expected rejected notification to be acknowledged, got %v", err)
	}
	if !result.Accepted || result.Metadata["rejected"] != 1 {
		t.Fatalf("expected one rejected notification, got %+v", result)
	}
}

func TestReceiver_AcknowledgesTransientDispatchFailures(t *testing.T) {
	service := &stubEventService{
		eventErr: core.NewTransientProviderError("sink unavailable"),
	}
	receiver := NewReceiver("webhook", service, NewMicrosoftWebhookTemplate())

	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  "webhook",
		Body:     []byte(`{"value":[{"subscriptionId":"sub-1","changeType":"updated"}]}`),
	})
	if err != nil {
		t.Fatalf("expected dispatch failure to be acknowledged, got %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 2xx acknowledgment, got %+v", result)
	}
	if result.Metadata["failed"] != 1 || result.Metadata["delivered"] != 0 {
		t.Fatalf("expected one failed and zero delivered, got %+v", result.Metadata)
	}
}

func TestReceiver_KeepsProcessingBatchAfterFailure(t *testing.T) {
	service := &stubEventService{
		lifecycleErr: core.NewTransientProviderError("store unavailable"),
	}
	receiver := NewReceiver("webhook", service, NewMicrosoftWebhookTemplate())

	body := []byte(`{"value":[
		{"subscriptionId":"sub-1","clientState":"state-1","lifecycleEvent":"reauthorizationRequired"},
		{"subscriptionId":"sub-2","clientState":"state-2","changeType":"created","resourceData":{"id":"abc"}}
	]}`)
	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  "webhook",
		Body:     body,
	})
	if err != nil {
		t.Fatalf("handle mixed batch: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected acknowledgment, got %+v", result)
	}
	if result.Metadata["failed"] != 1 || result.Metadata["delivered"] != 1 {
		t.Fatalf("expected failure not to abort the batch, got %+v", result.Metadata)
	}
	if len(service.events) != 1 {
		t.Fatalf("expected change event dispatched after lifecycle failure, got %d", len(service.events))
	}
}

func TestReceiver_AcknowledgesUndecodablePayload(t *testing.T) {
	service := &stubEventService{}
	receiver := NewReceiver("webhook", service, NewMicrosoftWebhookTemplate())

	result, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  "webhook",
		Body:     []byte("not json"),
	})
	if err != nil {
		t.Fatalf("expected undecodable payload to be acknowledged, got %v", err)
	}
	if !result.Accepted || result.Metadata["ignored"] != true {
		t.Fatalf("expected ignored acknowledgment, got %+v", result)
	}
}

func TestReceiver_RequiresRegisteredTemplate(t *testing.T) {
	receiver := NewReceiver("webhook", &stubEventService{}, NewMicrosoftWebhookTemplate())
	if _, err := receiver.Handle(context.Background(), core.InboundRequest{
		Provider: "slack",
		Surface:  "webhook",
		Body:     []byte(`{}`),
	}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
