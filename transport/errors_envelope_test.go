package transport

import (
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

func TestTransportError_CarriesRichEnvelope(t *testing.T) {
	err := transportError(
		"transport: request url is required",
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		map[string]any{"adapter": KindREST},
	)

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("unexpected category %q", rich.Category)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("unexpected code %d", rich.Code)
	}
	if rich.TextCode != core.IntegrationErrorBadInput {
		t.Fatalf("unexpected text code %q", rich.TextCode)
	}
	if rich.Metadata["adapter"] != KindREST {
		t.Fatalf("expected adapter metadata, got %+v", rich.Metadata)
	}
}

func TestTransportTextCode_MapsCategories(t *testing.T) {
	cases := []struct {
		category goerrors.Category
		want     string
	}{
		{goerrors.CategoryBadInput, core.IntegrationErrorBadInput},
		{goerrors.CategoryValidation, core.IntegrationErrorBadInput},
		{goerrors.CategoryAuth, core.IntegrationErrorAuthFailed},
		{goerrors.CategoryRateLimit, core.IntegrationErrorRateLimited},
		{goerrors.CategoryExternal, core.IntegrationErrorProviderUnavailable},
		{goerrors.CategoryInternal, core.IntegrationErrorInternal},
	}
	for _, tc := range cases {
		if got := transportTextCode(tc.category); got != tc.want {
			t.Fatalf("category %q: expected %q, got %q", tc.category, tc.want, got)
		}
	}
}
