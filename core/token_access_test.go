package core

import (
	"context"
	"testing"
	"time"
)

func TestService_GetValidAccessToken_ReturnsStoredTokenWhenFresh(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedRefreshAdapter{id: "google"}
	svc, credentialStore, _, _ := newRefreshTestService(t, adapter)

	seedTokenCredential(credentialStore, ActiveToken{
		UserID:       "usr_1",
		Provider:     "google",
		TokenType:    "bearer",
		AccessToken:  "at_fresh",
		RefreshToken: "rt_1",
		Refreshable:  true,
		ExpiresAt:    timePtr(time.Now().UTC().Add(2 * time.Hour)),
	}, CredentialStatusActive)

	result, err := svc.GetValidAccessToken(ctx, "usr_1", "google")
	if err != nil {
		t.Fatalf("get valid access token: %v", err)
	}
	if result.Outcome != AccessTokenOutcomeValid {
		t.Fatalf("expected valid outcome, got %q (%s)", result.Outcome, result.Reason)
	}
	if result.AccessToken != "at_fresh" {
		t.Fatalf("expected stored access token, got %q", result.AccessToken)
	}
	if adapter.callCount() != 0 {
		t.Fatalf("fresh tokens must not trigger a refresh, got %d calls", adapter.callCount())
	}
}

func TestService_GetValidAccessToken_NeverRefreshesNonExpiringToken(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedRefreshAdapter{id: "github"}
	svc, credentialStore, _, _ := newRefreshTestService(t, adapter)

	seedTokenCredential(credentialStore, ActiveToken{
		UserID:       "usr_1",
		Provider:     "github",
		AccessToken:  "at_static",
		RefreshToken: "rt_1",
		Refreshable:  true,
		ExpiresAt:    nil,
	}, CredentialStatusActive)

	result, err := svc.GetValidAccessToken(ctx, "usr_1", "github")
	if err != nil {
		t.Fatalf("get valid access token: %v", err)
	}
	if result.Outcome != AccessTokenOutcomeValid {
		t.Fatalf("expected valid outcome for non-expiring token, got %q", result.Outcome)
	}
	if adapter.callCount() != 0 {
		t.Fatalf("non-expiring tokens must never refresh, got %d calls", adapter.callCount())
	}
}

func TestService_GetValidAccessToken_RefreshesInsideLeadWindow(t *testing.T) {
	ctx := context.Background()
	newExpiry := time.Now().UTC().Add(time.Hour)
	adapter := &scriptedRefreshAdapter{
		id: "google",
		script: []refreshStep{
			{outcome: RefreshOutcome{Token: ActiveToken{
				AccessToken:  "at_new",
				RefreshToken: "rt_new",
				ExpiresAt:    &newExpiry,
			}, RotatedRefreshToken: true}},
		},
	}
	svc, credentialStore, _, _ := newRefreshTestService(t, adapter)

	seedTokenCredential(credentialStore, ActiveToken{
		UserID:       "usr_1",
		Provider:     "google",
		AccessToken:  "at_stale",
		RefreshToken: "rt_old",
		Refreshable:  true,
		ExpiresAt:    timePtr(time.Now().UTC().Add(2 * time.Minute)),
	}, CredentialStatusActive)

	result, err := svc.GetValidAccessToken(ctx, "usr_1", "google")
	if err != nil {
		t.Fatalf("get valid access token: %v", err)
	}
	if result.Outcome != AccessTokenOutcomeRefreshed {
		t.Fatalf("expected refreshed outcome, got %q (%s)", result.Outcome, result.Reason)
	}
	if result.AccessToken != "at_new" {
		t.Fatalf("expected refreshed access token, got %q", result.AccessToken)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected one refresh call, got %d", adapter.callCount())
	}
}

func TestService_GetValidAccessToken_NeverReturnsErrorForBusinessFailures(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name       string
		adapter    *scriptedRefreshAdapter
		seed       func(store *memoryCredentialStore)
		wantReason string
	}{
		{
			name:       "not connected",
			adapter:    &scriptedRefreshAdapter{id: "google"},
			seed:       func(*memoryCredentialStore) {},
			wantReason: "not_connected",
		},
		{
			name:    "disconnected",
			adapter: &scriptedRefreshAdapter{id: "google"},
			seed: func(store *memoryCredentialStore) {
				seedTokenCredential(store, ActiveToken{
					UserID:      "usr_1",
					Provider:    "google",
					AccessToken: "at_old",
				}, CredentialStatusDisconnected)
			},
			wantReason: "disconnected",
		},
		{
			name:    "expired without refresh token",
			adapter: &scriptedRefreshAdapter{id: "google"},
			seed: func(store *memoryCredentialStore) {
				seedTokenCredential(store, ActiveToken{
					UserID:      "usr_1",
					Provider:    "google",
					AccessToken: "at_old",
					ExpiresAt:   timePtr(time.Now().UTC().Add(-time.Hour)),
				}, CredentialStatusActive)
			},
			wantReason: "expired",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, credentialStore, _, _ := newRefreshTestService(t, tc.adapter)
			tc.seed(credentialStore)

			result, err := svc.GetValidAccessToken(ctx, "usr_1", "google")
			if err != nil {
				t.Fatalf("expected nil error for business failure, got %v", err)
			}
			if result.Outcome != AccessTokenOutcomeUnavailable {
				t.Fatalf("expected unavailable outcome, got %q", result.Outcome)
			}
			if result.Reason != tc.wantReason {
				t.Fatalf("expected reason %q, got %q", tc.wantReason, result.Reason)
			}
		})
	}
}

func TestService_GetValidAccessToken_RefreshFailureReportsUnavailable(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedRefreshAdapter{
		id: "google",
		script: []refreshStep{
			{err: NewAuthFailureError("invalid_grant")},
		},
	}
	svc, credentialStore, _, _ := newRefreshTestService(t, adapter)

	seedTokenCredential(credentialStore, ActiveToken{
		UserID:       "usr_1",
		Provider:     "google",
		AccessToken:  "at_stale",
		RefreshToken: "rt_old",
		Refreshable:  true,
		ExpiresAt:    timePtr(time.Now().UTC().Add(time.Minute)),
	}, CredentialStatusActive)

	result, err := svc.GetValidAccessToken(ctx, "usr_1", "google")
	if err != nil {
		t.Fatalf("expected nil error when refresh fails, got %v", err)
	}
	if result.Outcome != AccessTokenOutcomeUnavailable {
		t.Fatalf("expected unavailable outcome, got %q", result.Outcome)
	}
	if result.Reason == "" {
		t.Fatalf("expected failure reason to be reported")
	}
}
