package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestServiceAccountJWTSource_PostsSignedAssertion(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	doer := &grantDoer{
		status: http.StatusOK,
		body:   `{"access_token":"sa_tok_1","token_type":"Bearer","expires_in":3600}`,
	}

	source, err := NewServiceAccountJWTSource(ServiceAccountJWTConfig{
		Provider:   "workflows",
		TokenURL:   "https://oauth2.internal/token",
		Issuer:     "robot@workflows.internal",
		Audience:   "https://oauth2.internal/token",
		Scopes:     []string{"events.write"},
		SigningKey: testRSAPrivateKeyPEM(t),
		KeyID:      "key_1",
		Now:        func() time.Time { return now },
		HTTPClient: doer,
	})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if token.AccessToken != "sa_tok_1" {
		t.Fatalf("unexpected token %q", token.AccessToken)
	}

	if got := doer.lastForm.Get("grant_type"); got != jwtBearerGrantType {
		t.Fatalf("unexpected grant type %q", got)
	}
	assertion := doer.lastForm.Get("assertion")
	header, claims := decodeAssertion(t, assertion)
	if header["alg"] != "RS256" || header["kid"] != "key_1" {
		t.Fatalf("unexpected assertion header: %+v", header)
	}
	if claims["iss"] != "robot@workflows.internal" || claims["aud"] != "https://oauth2.internal/token" {
		t.Fatalf("unexpected assertion claims: %+v", claims)
	}
	if claims["scope"] != "events.write" {
		t.Fatalf("unexpected assertion scope: %v", claims["scope"])
	}
	if int64(claims["exp"].(float64))-int64(claims["iat"].(float64)) != 3600 {
		t.Fatalf("unexpected assertion lifetime: %+v", claims)
	}
}

func TestServiceAccountJWTSource_SupportsHS256(t *testing.T) {
	doer := &grantDoer{
		status: http.StatusOK,
		body:   `{"access_token":"sa_tok_hs","token_type":"Bearer","expires_in":600}`,
	}
	source, err := NewServiceAccountJWTSource(ServiceAccountJWTConfig{
		Provider:         "workflows",
		TokenURL:         "https://oauth2.internal/token",
		Issuer:           "robot@workflows.internal",
		SigningKey:       "shared_secret",
		SigningAlgorithm: "hs256",
		HTTPClient:       doer,
	})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("issue token: %v", err)
	}

	assertion := doer.lastForm.Get("assertion")
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		t.Fatalf("malformed assertion %q", assertion)
	}
	mac := hmac.New(sha256.New, []byte("shared_secret"))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if parts[2] != expected {
		t.Fatalf("assertion signature does not verify")
	}
}

func TestNewServiceAccountJWTSource_ValidatesConfig(t *testing.T) {
	if _, err := NewServiceAccountJWTSource(ServiceAccountJWTConfig{
		Provider: "workflows",
		TokenURL: "https://oauth2.internal/token",
	}); err == nil {
		t.Fatalf("expected missing issuer to be rejected")
	}
	if _, err := NewServiceAccountJWTSource(ServiceAccountJWTConfig{
		Provider:   "workflows",
		Issuer:     "robot@workflows.internal",
		SigningKey: "shared_secret",
	}); err == nil {
		t.Fatalf("expected missing token url to be rejected")
	}
}

func TestBuildJWT_RejectsUnknownAlgorithm(t *testing.T) {
	if _, err := buildJWT("", "ES256", "key", map[string]any{"iss": "x"}); err == nil {
		t.Fatalf("expected unsupported algorithm to be rejected")
	}
}

func testRSAPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block))
}

func decodeAssertion(t *testing.T, assertion string) (map[string]any, map[string]any) {
	t.Helper()
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		t.Fatalf("malformed assertion %q", assertion)
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode assertion header: %v", err)
	}
	claimsRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode assertion claims: %v", err)
	}
	var header map[string]any
	var claims map[string]any
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		t.Fatalf("unmarshal assertion header: %v", err)
	}
	if err := json.Unmarshal(claimsRaw, &claims); err != nil {
		t.Fatalf("unmarshal assertion claims: %v", err)
	}
	return header, claims
}
