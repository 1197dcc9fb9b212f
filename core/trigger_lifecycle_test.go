package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedTriggerAdapter struct {
	id string

	mu            sync.Mutex
	validateErr   error
	registerCalls int
	lastRegister  RegisterTriggerRequest
	registration  TriggerRegistration
	registerErr   error
	deleteCalls   []string
	deleteErr     error
	listResult    []RemoteTrigger
	listErr       error
	renewCalls    int
	renewal       TriggerRegistration
	renewErr      error
}

func (a *scriptedTriggerAdapter) ID() string { return a.id }

func (a *scriptedTriggerAdapter) RefreshToken(_ context.Context, token ActiveToken) (RefreshOutcome, error) {
	return RefreshOutcome{Token: token}, nil
}

func (a *scriptedTriggerAdapter) ValidateToken(_ context.Context, _ ActiveToken) (TokenValidation, error) {
	return TokenValidation{Valid: true}, nil
}

func (a *scriptedTriggerAdapter) ValidateTriggerConfig(triggerType string, config map[string]any) error {
	if a.validateErr != nil {
		return a.validateErr
	}
	if triggerType == "card_moved" {
		if board, _ := config["boardId"].(string); strings.TrimSpace(board) == "" {
			return NewConfigurationError("boardId is required for card_moved triggers")
		}
	}
	return nil
}

func (a *scriptedTriggerAdapter) RegisterTrigger(_ context.Context, req RegisterTriggerRequest) (TriggerRegistration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registerCalls++
	a.lastRegister = req
	if a.registerErr != nil {
		return TriggerRegistration{}, a.registerErr
	}
	return a.registration, nil
}

func (a *scriptedTriggerAdapter) DeleteTrigger(_ context.Context, req DeleteTriggerRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleteCalls = append(a.deleteCalls, req.ExternalID)
	return a.deleteErr
}

func (a *scriptedTriggerAdapter) ListTriggers(_ context.Context, _ ListRemoteTriggersRequest) ([]RemoteTrigger, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return append([]RemoteTrigger(nil), a.listResult...), nil
}

func (a *scriptedTriggerAdapter) RenewTrigger(_ context.Context, _ RenewTriggerRequest) (TriggerRegistration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renewCalls++
	if a.renewErr != nil {
		return TriggerRegistration{}, a.renewErr
	}
	return a.renewal, nil
}

func newTriggerTestService(t *testing.T, adapter ProviderAdapter, options ...Option) (*Service, *memoryCredentialStore, *memoryTriggerResourceStore) {
	t.Helper()
	credentialStore := newMemoryCredentialStore()
	triggerStore := newMemoryTriggerResourceStore()
	registry := NewAdapterRegistry()
	if adapter != nil {
		if err := registry.Register(adapter); err != nil {
			t.Fatalf("register adapter: %v", err)
		}
	}

	base := []Option{
		WithLogger(stubLogger{}),
		WithRegistry(registry),
		WithCredentialStore(credentialStore),
		WithTriggerResourceStore(triggerStore),
	}
	svc, err := NewService(Config{
		Triggers: TriggerConfig{WebhookBaseURL: "https://hooks.example.app"},
	}, append(base, options...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, credentialStore, triggerStore
}

func seedFreshToken(store *memoryCredentialStore, userID, provider string) {
	seedTokenCredential(store, ActiveToken{
		UserID:       userID,
		Provider:     provider,
		TokenType:    "bearer",
		AccessToken:  "at_fresh",
		RefreshToken: "rt_fresh",
		Refreshable:  true,
		ExpiresAt:    timePtr(time.Now().UTC().Add(2 * time.Hour)),
	}, CredentialStatusActive)
}

func TestService_ActivateTrigger_RegistersAndPersistsResource(t *testing.T) {
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(48 * time.Hour)
	adapter := &scriptedTriggerAdapter{
		id: "trello",
		registration: TriggerRegistration{
			ExternalID: "hook_1",
			ExpiresAt:  &expiresAt,
		},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")

	resource, err := svc.ActivateTrigger(ctx, ActivateTriggerRequest{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		Config:      map[string]any{"boardId": "board_1"},
	})
	if err != nil {
		t.Fatalf("activate trigger: %v", err)
	}
	if resource.ExternalID != "hook_1" {
		t.Fatalf("expected remote id persisted, got %q", resource.ExternalID)
	}
	if resource.Status != TriggerResourceStatusActive {
		t.Fatalf("expected active resource, got %q", resource.Status)
	}
	if resource.ClientState == "" {
		t.Fatalf("expected a client state to be generated")
	}
	if adapter.lastRegister.CallbackURL != "https://hooks.example.app/webhooks/trello" {
		t.Fatalf("unexpected callback url %q", adapter.lastRegister.CallbackURL)
	}
	if adapter.lastRegister.Token.AccessToken != "at_fresh" {
		t.Fatalf("expected register call to carry a valid token")
	}

	stored, err := triggerStore.GetByExternalID(ctx, "trello", "hook_1")
	if err != nil {
		t.Fatalf("reload resource: %v", err)
	}
	if stored.WorkflowID != "wf_1" || stored.TriggerType != "card_moved" {
		t.Fatalf("unexpected stored resource %+v", stored)
	}
}

func TestService_ActivateTrigger_RejectsInvalidConfigBeforeRemoteCall(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{id: "trello"}
	svc, credentialStore, _ := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")

	_, err := svc.ActivateTrigger(ctx, ActivateTriggerRequest{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		Config:      map[string]any{},
	})
	if err == nil {
		t.Fatalf("expected config validation failure")
	}
	if adapter.registerCalls != 0 {
		t.Fatalf("invalid config must fail before any remote call, got %d calls", adapter.registerCalls)
	}
}

func TestService_ActivateTrigger_IsIdempotentForHealthyResource(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:           "trello",
		registration: TriggerRegistration{ExternalID: "hook_1"},
	}
	svc, credentialStore, _ := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")

	req := ActivateTriggerRequest{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		Config:      map[string]any{"boardId": "board_1"},
	}
	first, err := svc.ActivateTrigger(ctx, req)
	if err != nil {
		t.Fatalf("first activate: %v", err)
	}
	second, err := svc.ActivateTrigger(ctx, req)
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if first.ID != second.ID || second.ExternalID != "hook_1" {
		t.Fatalf("expected the existing resource to be reused, got %+v", second)
	}
	if adapter.registerCalls != 1 {
		t.Fatalf("expected a single register call, got %d", adapter.registerCalls)
	}
}

func TestService_ActivateTrigger_SurvivesReferentialConstraintFailure(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:           "trello",
		registration: TriggerRegistration{ExternalID: "hook_1"},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")
	triggerStore.upsertErr = fmt.Errorf(
		`insert or update on table "integration_trigger_resources" violates foreign key constraint "fk_workflow"`)

	resource, err := svc.ActivateTrigger(ctx, ActivateTriggerRequest{
		WorkflowID:  "wf_unsaved",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		Config:      map[string]any{"boardId": "board_1"},
	})
	if err != nil {
		t.Fatalf("a missing workflow row must not fail activation: %v", err)
	}
	if resource.ExternalID != "hook_1" || resource.Status != TriggerResourceStatusActive {
		t.Fatalf("expected the remote registration reported back, got %+v", resource)
	}
	if adapter.registerCalls != 1 {
		t.Fatalf("expected remote registration to happen, got %d calls", adapter.registerCalls)
	}
	if _, err := triggerStore.GetByExternalID(ctx, "trello", "hook_1"); err == nil {
		t.Fatalf("expected no local row when persistence fails")
	}
}

func TestService_ActivateTrigger_FailsOnOtherPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:           "trello",
		registration: TriggerRegistration{ExternalID: "hook_1"},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")
	triggerStore.upsertErr = fmt.Errorf("connection reset by peer")

	if _, err := svc.ActivateTrigger(ctx, ActivateTriggerRequest{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		Config:      map[string]any{"boardId": "board_1"},
	}); err == nil {
		t.Fatalf("expected non-constraint persistence failure to propagate")
	}
}

func TestService_DeactivateTrigger_TreatsGoneRemoteAsDeleted(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:        "trello",
		deleteErr: ErrTriggerResourceNotFound,
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")

	triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		ExternalID:  "hook_gone",
	})

	report, err := svc.DeactivateTrigger(ctx, "wf_1")
	if err != nil {
		t.Fatalf("deactivate trigger: %v", err)
	}
	if report.RemoteDeleted != 1 || report.RemoteFailures != 0 {
		t.Fatalf("a gone remote resource counts as deleted, got %+v", report)
	}
	if report.LocalDeleted != 1 {
		t.Fatalf("expected local row removed, got %d", report.LocalDeleted)
	}
	if _, err := triggerStore.GetByExternalID(ctx, "trello", "hook_gone"); err == nil {
		t.Fatalf("expected local resource to be gone")
	}
}

func TestService_DeactivateTrigger_RemovesLocalRowsDespiteRemoteFailure(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:        "trello",
		deleteErr: NewTransientProviderError("status 503"),
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")

	triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		ExternalID:  "hook_1",
	})

	report, err := svc.DeactivateTrigger(ctx, "wf_1")
	if err != nil {
		t.Fatalf("deactivate trigger: %v", err)
	}
	if report.RemoteFailures != 1 {
		t.Fatalf("expected one remote failure, got %d", report.RemoteFailures)
	}
	if report.LocalDeleted != 1 {
		t.Fatalf("local cleanup must run regardless of remote failures, got %d", report.LocalDeleted)
	}
}

func TestService_CheckTriggerHealth_FlagsMissingRemoteResource(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:         "microsoft",
		listResult: []RemoteTrigger{{ExternalID: "sub_present"}},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "microsoft")

	triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "mail_received",
		ExternalID:  "sub_present",
		ExpiresAt:   timePtr(time.Now().UTC().Add(72 * time.Hour)),
	})
	missing := triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "file_changed",
		ExternalID:  "sub_missing",
	})

	report, err := svc.CheckTriggerHealth(ctx, "wf_1")
	if err != nil {
		t.Fatalf("check trigger health: %v", err)
	}
	if report.Healthy {
		t.Fatalf("expected unhealthy report when a resource is missing remotely")
	}

	stored, err := triggerStore.Get(ctx, missing.ID)
	if err != nil {
		t.Fatalf("reload missing resource: %v", err)
	}
	if stored.Status != TriggerResourceStatusErrored {
		t.Fatalf("expected missing resource marked errored, got %q", stored.Status)
	}
}

func TestService_CheckTriggerHealth_RenewsResourceNearExpiry(t *testing.T) {
	ctx := context.Background()
	renewedExpiry := time.Now().UTC().Add(72 * time.Hour)
	adapter := &scriptedTriggerAdapter{
		id:         "microsoft",
		listResult: []RemoteTrigger{{ExternalID: "sub_1"}},
		renewal:    TriggerRegistration{ExternalID: "sub_1", ExpiresAt: &renewedExpiry},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "microsoft")

	seeded := triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "mail_received",
		ExternalID:  "sub_1",
		ExpiresAt:   timePtr(time.Now().UTC().Add(time.Hour)),
	})

	report, err := svc.CheckTriggerHealth(ctx, "wf_1")
	if err != nil {
		t.Fatalf("check trigger health: %v", err)
	}
	if !report.Healthy {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if adapter.renewCalls != 1 {
		t.Fatalf("expected one renew call, got %d", adapter.renewCalls)
	}

	stored, err := triggerStore.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("reload resource: %v", err)
	}
	if stored.ExpiresAt == nil || !stored.ExpiresAt.Equal(renewedExpiry) {
		t.Fatalf("expected renewed expiry persisted, got %v", stored.ExpiresAt)
	}
}

func TestService_HandleTriggerLifecycleEvent_RejectsClientStateMismatch(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{id: "microsoft"}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "microsoft")

	seeded := triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "mail_received",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
	})

	err := svc.HandleTriggerLifecycleEvent(ctx, TriggerLifecycleEvent{
		Provider:    "microsoft",
		ExternalID:  "sub_1",
		ClientState: "state_wrong",
		Kind:        TriggerLifecycleSubscriptionRemoved,
	})
	if err == nil {
		t.Fatalf("expected client state mismatch error")
	}

	stored, err := triggerStore.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("reload resource: %v", err)
	}
	if stored.Status != TriggerResourceStatusActive {
		t.Fatalf("mismatched events must not mutate the resource, got %q", stored.Status)
	}
	if adapter.registerCalls != 0 || adapter.renewCalls != 0 {
		t.Fatalf("mismatched events must not reach the provider")
	}
}

func TestService_HandleTriggerLifecycleEvent_SubscriptionRemovedMarksErrored(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:           "microsoft",
		registration: TriggerRegistration{ExternalID: "sub_new"},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "microsoft")

	seeded := triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "mail_received",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
	})

	err := svc.HandleTriggerLifecycleEvent(ctx, TriggerLifecycleEvent{
		Provider:    "microsoft",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
		Kind:        TriggerLifecycleSubscriptionRemoved,
	})
	if err != nil {
		t.Fatalf("handle lifecycle event: %v", err)
	}

	stored, err := triggerStore.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("reload resource: %v", err)
	}
	if stored.Status != TriggerResourceStatusErrored {
		t.Fatalf("expected errored resource, got %q", stored.Status)
	}
	// Recovery is a user decision: deactivate and activate again.
	if adapter.registerCalls != 0 {
		t.Fatalf("removed subscriptions must not be re-registered automatically, got %d calls", adapter.registerCalls)
	}
}

func TestService_HandleTriggerLifecycleEvent_ReauthorizationRenews(t *testing.T) {
	ctx := context.Background()
	renewedExpiry := time.Now().UTC().Add(72 * time.Hour)
	adapter := &scriptedTriggerAdapter{
		id:      "microsoft",
		renewal: TriggerRegistration{ExternalID: "sub_1", ExpiresAt: &renewedExpiry},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "microsoft")

	triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "mail_received",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
	})

	err := svc.HandleTriggerLifecycleEvent(ctx, TriggerLifecycleEvent{
		Provider:    "microsoft",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
		Kind:        TriggerLifecycleReauthorizationRequired,
	})
	if err != nil {
		t.Fatalf("handle lifecycle event: %v", err)
	}
	if adapter.renewCalls != 1 {
		t.Fatalf("expected one renew call, got %d", adapter.renewCalls)
	}
}

func TestService_HandleTriggerEvent_ForwardsVerifiedEventsToSink(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{id: "microsoft"}
	sink := &recordingEventSink{}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter, WithTriggerEventSink(sink))
	seedFreshToken(credentialStore, "usr_1", "microsoft")

	triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "microsoft",
		TriggerType: "mail_received",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
	})

	if err := svc.HandleTriggerEvent(ctx, TriggerEvent{
		Provider:    "microsoft",
		ExternalID:  "sub_1",
		ClientState: "state_secret",
		EventType:   "mail_received",
		Payload:     map[string]any{"id": "msg_1"},
	}); err != nil {
		t.Fatalf("handle trigger event: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one delivered event, got %d", len(sink.events))
	}

	if err := svc.HandleTriggerEvent(ctx, TriggerEvent{
		Provider:    "microsoft",
		ExternalID:  "sub_1",
		ClientState: "state_wrong",
	}); err == nil {
		t.Fatalf("expected client state mismatch error")
	}
	if len(sink.events) != 1 {
		t.Fatalf("mismatched events must not reach the sink, got %d", len(sink.events))
	}
}

type recordingEventSink struct {
	mu     sync.Mutex
	events []TriggerEvent
}

func (s *recordingEventSink) Deliver(_ context.Context, event TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}
