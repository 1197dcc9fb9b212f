package core

import (
	"context"
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestIsAuthFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "auth constructor", err: NewAuthFailureError("token revoked"), want: true},
		{name: "invalid_grant message", err: errors.New("oauth error: invalid_grant"), want: true},
		{name: "invalid refresh token message", err: errors.New("invalid refresh token"), want: true},
		{name: "transient provider", err: NewTransientProviderError("status 503"), want: false},
		{name: "rate limited", err: NewRateLimitedError("status 429"), want: false},
		{name: "plain failure", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAuthFailure(tc.err); got != tc.want {
				t.Fatalf("IsAuthFailure(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTransientFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient constructor", err: NewTransientProviderError("status 503"), want: true},
		{name: "rate limited constructor", err: NewRateLimitedError("slow down"), want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "connection reset message", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "throttled message", err: errors.New("request throttled by upstream"), want: true},
		{name: "auth failure", err: NewAuthFailureError("invalid_grant"), want: false},
		{name: "permanent rejection", err: NewPermanentProviderError("status 400: bad request"), want: false},
		{name: "config error", err: NewConfigurationError("boardId is required"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransientFailure(tc.err); got != tc.want {
				t.Fatalf("IsTransientFailure(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIntegrationErrorMapperEnvelope(t *testing.T) {
	mapped := integrationErrorMapper(ErrCredentialNotFound)
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != IntegrationErrorNotFound {
		t.Fatalf("expected %s, got %s", IntegrationErrorNotFound, mapped.TextCode)
	}
	if mapped.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", mapped.Code)
	}

	mismatch := integrationErrorMapper(NewClientStateMismatchError("client state mismatch"))
	if mismatch.TextCode != IntegrationErrorClientStateMismatch {
		t.Fatalf("expected mismatch code preserved, got %s", mismatch.TextCode)
	}
	if mismatch.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for client state mismatch, got %d", mismatch.Code)
	}

	rich := integrationErrorMapper(goerrors.New("temporary outage", goerrors.CategoryOperation))
	if rich.TextCode != IntegrationErrorProviderRejected {
		t.Fatalf("expected default operation code, got %s", rich.TextCode)
	}
}
