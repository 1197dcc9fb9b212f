package trello

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := New(Config{
		APIKey:  "key-123",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("new trello adapter: %v", err)
	}
	return adapter, server
}

func TestAdapter_ValidateTriggerConfig(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.NotFoundHandler())

	if err := adapter.ValidateTriggerConfig("card_moved", map[string]any{"boardId": "board_1"}); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if err := adapter.ValidateTriggerConfig("card_moved", map[string]any{}); err == nil {
		t.Fatalf("expected missing boardId error")
	}
	if err := adapter.ValidateTriggerConfig("star_gazed", map[string]any{"boardId": "board_1"}); err == nil {
		t.Fatalf("expected unsupported trigger type error")
	}
}

func TestAdapter_RegisterTrigger_CreatesWebhook(t *testing.T) {
	var captured map[string]any
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Query().Get("key") != "key-123" || r.URL.Query().Get("token") != "at_1" {
			t.Fatalf("expected key and token query params, got %s", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode webhook payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "hook_1",
			"idModel": "board_1",
			"active":  true,
		})
	}))

	registration, err := adapter.RegisterTrigger(context.Background(), core.RegisterTriggerRequest{
		WorkflowID:  "wf_1",
		TriggerType: "card_moved",
		CallbackURL: "https://hooks.example.app/webhooks/trello",
		ClientState: "state_1",
		Config:      map[string]any{"boardId": "board_1"},
		Token:       core.ActiveToken{AccessToken: "at_1"},
	})
	if err != nil {
		t.Fatalf("register trigger: %v", err)
	}
	if registration.ExternalID != "hook_1" {
		t.Fatalf("expected hook_1, got %q", registration.ExternalID)
	}
	if registration.ClientState != "state_1" {
		t.Fatalf("expected client state carried through, got %q", registration.ClientState)
	}
	if registration.ExpiresAt != nil {
		t.Fatalf("trello webhooks do not expire")
	}
	if captured["idModel"] != "board_1" {
		t.Fatalf("expected idModel board_1, got %v", captured["idModel"])
	}
	if captured["callbackURL"] != "https://hooks.example.app/webhooks/trello" {
		t.Fatalf("expected callback url in payload, got %v", captured["callbackURL"])
	}
}

func TestAdapter_DeleteTrigger_TreatsNotFoundAsGone(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	err := adapter.DeleteTrigger(context.Background(), core.DeleteTriggerRequest{
		ExternalID: "hook_gone",
		Token:      core.ActiveToken{AccessToken: "at_1"},
	})
	if !errors.Is(err, core.ErrTriggerResourceNotFound) {
		t.Fatalf("expected ErrTriggerResourceNotFound, got %v", err)
	}
}

func TestAdapter_ListTriggers_ReturnsRemoteHooks(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens/at_1/webhooks" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "hook_1", "callbackURL": "https://hooks.example.app/webhooks/trello", "idModel": "board_1"},
			{"id": "hook_2", "callbackURL": "https://other.example/cb", "idModel": "board_2"},
		})
	}))

	hooks, err := adapter.ListTriggers(context.Background(), core.ListRemoteTriggersRequest{
		Token: core.ActiveToken{AccessToken: "at_1"},
	})
	if err != nil {
		t.Fatalf("list triggers: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("expected 2 hooks, got %d", len(hooks))
	}
	if hooks[0].ExternalID != "hook_1" {
		t.Fatalf("expected hook_1 first, got %q", hooks[0].ExternalID)
	}
}

func TestAdapter_RefreshToken_FailsClosed(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.NotFoundHandler())

	_, err := adapter.RefreshToken(context.Background(), core.ActiveToken{RefreshToken: "rt_1"})
	if err == nil || !core.IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestAdapter_StatusErrorClassification(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := adapter.ListTriggers(context.Background(), core.ListRemoteTriggersRequest{
		Token: core.ActiveToken{AccessToken: "at_1"},
	})
	if err == nil || !core.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}
