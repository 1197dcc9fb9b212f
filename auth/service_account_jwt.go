package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// ServiceAccountJWTConfig configures a jwt-bearer grant backed by a
// service account key, the shape Google-style service accounts use.
type ServiceAccountJWTConfig struct {
	Provider         string
	TokenURL         string
	Issuer           string
	Subject          string
	Audience         string
	Scopes           []string
	SigningKey       string
	SigningAlgorithm string
	KeyID            string
	AssertionTTL     time.Duration
	RenewBefore      time.Duration
	RequestTimeout   time.Duration
	Now              func() time.Time
	HTTPClient       HTTPDoer
}

type ServiceAccountJWTSource struct {
	cfg ServiceAccountJWTConfig

	mu     sync.Mutex
	cached core.ActiveToken
}

func NewServiceAccountJWTSource(cfg ServiceAccountJWTConfig) (*ServiceAccountJWTSource, error) {
	cfg.Provider = strings.TrimSpace(strings.ToLower(cfg.Provider))
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	cfg.SigningKey = strings.TrimSpace(cfg.SigningKey)
	cfg.SigningAlgorithm = firstNonEmpty(strings.ToUpper(strings.TrimSpace(cfg.SigningAlgorithm)), jwtAlgRS256)
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Provider == "" {
		return nil, fmt.Errorf("auth: service account provider is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth: service account token url is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("auth: service account issuer is required")
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("auth: service account signing key is required")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.TokenURL
	}
	if cfg.Subject == "" {
		cfg.Subject = cfg.Issuer
	}
	if cfg.AssertionTTL <= 0 || cfg.AssertionTTL > time.Hour {
		cfg.AssertionTTL = time.Hour
	}
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = defaultRenewBefore
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ServiceAccountJWTSource{cfg: cfg}, nil
}

func (s *ServiceAccountJWTSource) Token(ctx context.Context) (core.ActiveToken, error) {
	if s == nil {
		return core.ActiveToken{}, fmt.Errorf("auth: service account source is nil")
	}

	s.mu.Lock()
	if cached, ok := s.freshLocked(); ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	assertion, err := s.buildAssertion()
	if err != nil {
		return core.ActiveToken{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)
	if len(s.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(s.cfg.Scopes, " "))
	}

	token, err := requestToken(ctx, s.cfg.HTTPClient, s.cfg.Provider, s.cfg.TokenURL, form, s.cfg.RequestTimeout, s.cfg.Now)
	if err != nil {
		return core.ActiveToken{}, err
	}
	if len(token.Scopes) == 0 {
		token.Scopes = append([]string(nil), s.cfg.Scopes...)
	}

	s.mu.Lock()
	s.cached = token
	s.mu.Unlock()
	return token, nil
}

func (s *ServiceAccountJWTSource) buildAssertion() (string, error) {
	now := s.cfg.Now().UTC()
	claims := map[string]any{
		"iss": s.cfg.Issuer,
		"sub": s.cfg.Subject,
		"aud": s.cfg.Audience,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.AssertionTTL).Unix(),
	}
	if len(s.cfg.Scopes) > 0 {
		claims["scope"] = strings.Join(s.cfg.Scopes, " ")
	}
	return buildJWT(s.cfg.KeyID, s.cfg.SigningAlgorithm, s.cfg.SigningKey, claims)
}

func (s *ServiceAccountJWTSource) freshLocked() (core.ActiveToken, bool) {
	if strings.TrimSpace(s.cached.AccessToken) == "" {
		return core.ActiveToken{}, false
	}
	if s.cached.ExpiresAt == nil {
		return s.cached, true
	}
	if !s.cached.ExpiresAt.After(s.cfg.Now().UTC().Add(s.cfg.RenewBefore)) {
		s.cached = core.ActiveToken{}
		return core.ActiveToken{}, false
	}
	return s.cached, true
}

var _ TokenSource = (*ServiceAccountJWTSource)(nil)
