package core

import (
	"context"
	"testing"
)

func seedReconcileState(t *testing.T, credentialStore *memoryCredentialStore, triggerStore *memoryTriggerResourceStore) {
	t.Helper()
	seedFreshToken(credentialStore, "usr_1", "trello")
	for _, externalID := range []string{"hook_1", "hook_2", "hook_3"} {
		triggerStore.seed(TriggerResource{
			WorkflowID:  "wf_" + externalID,
			UserID:      "usr_1",
			Provider:    "trello",
			TriggerType: "card_moved",
			ExternalID:  externalID,
		})
	}
}

func reconcileRemoteFixture() []RemoteTrigger {
	callback := "https://hooks.example.app/webhooks/trello"
	return []RemoteTrigger{
		{ExternalID: "hook_1", CallbackURL: callback},
		{ExternalID: "hook_2", CallbackURL: callback},
		{ExternalID: "hook_3", CallbackURL: callback},
		{ExternalID: "hook_orphan_1", CallbackURL: callback},
		{ExternalID: "hook_orphan_2", CallbackURL: callback},
	}
}

func TestService_ReconcileTriggerResources_ReportsOrphansWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:         "trello",
		listResult: reconcileRemoteFixture(),
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedReconcileState(t, credentialStore, triggerStore)

	report, err := svc.ReconcileTriggerResources(ctx, ReconcileTriggersRequest{
		UserID:   "usr_1",
		Provider: "trello",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Tracked != 3 || report.Remote != 5 {
		t.Fatalf("expected 3 tracked / 5 remote, got %d/%d", report.Tracked, report.Remote)
	}
	if len(report.Orphans) != 2 {
		t.Fatalf("expected two orphans reported, got %d", len(report.Orphans))
	}
	if report.OrphansDeleted != 0 {
		t.Fatalf("orphans must not be deleted without opt-in, got %d", report.OrphansDeleted)
	}
	if len(adapter.deleteCalls) != 0 {
		t.Fatalf("expected no remote deletions, got %v", adapter.deleteCalls)
	}
}

func TestService_ReconcileTriggerResources_DeletesOrphansWhenOptedIn(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:         "trello",
		listResult: reconcileRemoteFixture(),
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedReconcileState(t, credentialStore, triggerStore)

	report, err := svc.ReconcileTriggerResources(ctx, ReconcileTriggersRequest{
		UserID:        "usr_1",
		Provider:      "trello",
		DeleteOrphans: true,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.OrphansDeleted != 2 {
		t.Fatalf("expected two orphans deleted, got %d", report.OrphansDeleted)
	}
	if len(adapter.deleteCalls) != 2 {
		t.Fatalf("expected two remote deletions, got %v", adapter.deleteCalls)
	}
	for _, externalID := range adapter.deleteCalls {
		if externalID != "hook_orphan_1" && externalID != "hook_orphan_2" {
			t.Fatalf("unexpected deletion of tracked resource %q", externalID)
		}
	}
}

func TestService_ReconcileTriggerResources_SkipsForeignCallbacks(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id: "trello",
		listResult: []RemoteTrigger{
			{ExternalID: "hook_ours", CallbackURL: "https://hooks.example.app/webhooks/trello"},
			{ExternalID: "hook_theirs", CallbackURL: "https://other.example.net/webhooks/trello"},
		},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")
	_ = triggerStore

	report, err := svc.ReconcileTriggerResources(ctx, ReconcileTriggersRequest{
		UserID:   "usr_1",
		Provider: "trello",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].ExternalID != "hook_ours" {
		t.Fatalf("expected only our callback to be claimed, got %+v", report.Orphans)
	}
}

func TestService_ReconcileTriggerResources_MarksMissingTrackedResources(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedTriggerAdapter{
		id:         "trello",
		listResult: []RemoteTrigger{},
	}
	svc, credentialStore, triggerStore := newTriggerTestService(t, adapter)
	seedFreshToken(credentialStore, "usr_1", "trello")
	seeded := triggerStore.seed(TriggerResource{
		WorkflowID:  "wf_1",
		UserID:      "usr_1",
		Provider:    "trello",
		TriggerType: "card_moved",
		ExternalID:  "hook_lost",
	})

	report, err := svc.ReconcileTriggerResources(ctx, ReconcileTriggersRequest{
		UserID:   "usr_1",
		Provider: "trello",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.MissingLocal) != 1 || report.MissingLocal[0] != seeded.ID {
		t.Fatalf("expected missing tracked resource reported, got %v", report.MissingLocal)
	}

	stored, err := triggerStore.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("reload resource: %v", err)
	}
	if stored.Status != TriggerResourceStatusErrored {
		t.Fatalf("expected errored status for vanished resource, got %q", stored.Status)
	}
}
