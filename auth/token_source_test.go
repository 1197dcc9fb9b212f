package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

func TestStaticTokenSource_ReturnsConfiguredToken(t *testing.T) {
	source := NewStaticTokenSource(core.ActiveToken{
		Provider:    "trello",
		TokenType:   "key",
		AccessToken: "static_key",
	})
	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("static token: %v", err)
	}
	if token.AccessToken != "static_key" {
		t.Fatalf("unexpected token %q", token.AccessToken)
	}

	empty := NewStaticTokenSource(core.ActiveToken{})
	if _, err := empty.Token(context.Background()); err == nil {
		t.Fatalf("expected empty static source to fail")
	}
}

type grantDoer struct {
	status   int
	body     string
	calls    int
	lastForm url.Values
}

func (d *grantDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls++
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		form, _ := url.ParseQuery(string(raw))
		d.lastForm = form
	}
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}
