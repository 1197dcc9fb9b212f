package core

import (
	"context"
	"testing"
	"time"
)

func TestJSONTokenCodecRoundTrip(t *testing.T) {
	expiresAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	original := ActiveToken{
		CredentialID: "cred_1",
		UserID:       "usr_1",
		Provider:     "google",
		TokenType:    "bearer",
		AccessToken:  "at_1",
		RefreshToken: "rt_1",
		Scopes:       []string{"gmail.readonly"},
		ExpiresAt:    &expiresAt,
		Refreshable:  true,
		Metadata:     map[string]any{"issuer": "accounts.google.com"},
	}

	encoded, err := JSONTokenCodec{}.Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := JSONTokenCodec{}.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.AccessToken != original.AccessToken || decoded.RefreshToken != original.RefreshToken {
		t.Fatalf("token material lost in round trip: %+v", decoded)
	}
	if decoded.ExpiresAt == nil || !decoded.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expiry lost in round trip: %v", decoded.ExpiresAt)
	}
	if !decoded.Refreshable {
		t.Fatalf("refreshable flag lost in round trip")
	}
}

func TestJSONTokenCodecDecodeRejectsGarbage(t *testing.T) {
	if _, err := (JSONTokenCodec{}).Decode(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := (JSONTokenCodec{}).Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestServiceTokenPayloadEncryption(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(Config{},
		WithLogger(stubLogger{}),
		WithCredentialStore(newMemoryCredentialStore()),
		WithTriggerResourceStore(newMemoryTriggerResourceStore()),
		WithSecretProvider(testSecretProvider{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token := ActiveToken{
		UserID:      "usr_1",
		Provider:    "google",
		AccessToken: "at_secret",
	}
	payload, err := svc.encodeTokenPayload(ctx, token)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	if string(payload[:4]) == `{"us` {
		t.Fatalf("expected encrypted payload, got plaintext JSON")
	}

	decoded, err := svc.decodeTokenPayload(ctx, Credential{
		ID:               "cred_1",
		UserID:           "usr_1",
		Provider:         "google",
		EncryptedPayload: payload,
	})
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.AccessToken != "at_secret" {
		t.Fatalf("expected decrypted access token, got %q", decoded.AccessToken)
	}
	if decoded.CredentialID != "cred_1" {
		t.Fatalf("expected credential id backfilled from row, got %q", decoded.CredentialID)
	}
}
