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

// ClientCredentialsConfig configures an app-only OAuth2 grant, the
// kind Microsoft Graph subscription management runs on.
type ClientCredentialsConfig struct {
	Provider       string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Scopes         []string
	RenewBefore    time.Duration
	RequestTimeout time.Duration
	Now            func() time.Time
	HTTPClient     HTTPDoer
}

type ClientCredentialsSource struct {
	cfg ClientCredentialsConfig

	mu     sync.Mutex
	cached core.ActiveToken
}

func NewClientCredentialsSource(cfg ClientCredentialsConfig) (*ClientCredentialsSource, error) {
	cfg.Provider = strings.TrimSpace(strings.ToLower(cfg.Provider))
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.Provider == "" {
		return nil, fmt.Errorf("auth: client credentials provider is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth: client credentials token url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("auth: client credentials client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("auth: client credentials client secret is required")
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
	return &ClientCredentialsSource{cfg: cfg}, nil
}

func (s *ClientCredentialsSource) Token(ctx context.Context) (core.ActiveToken, error) {
	if s == nil {
		return core.ActiveToken{}, fmt.Errorf("auth: client credentials source is nil")
	}

	s.mu.Lock()
	if cached, ok := s.freshLocked(); ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
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

func (s *ClientCredentialsSource) freshLocked() (core.ActiveToken, bool) {
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

var _ TokenSource = (*ClientCredentialsSource)(nil)
