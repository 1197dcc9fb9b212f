package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type CredentialLocker interface {
	Acquire(ctx context.Context, credentialID string, ttl time.Duration) (LockHandle, error)
}

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoffScheduler doubles the delay after every attempt:
// Initial, 2*Initial, 4*Initial, capped at Max.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = DefaultRetryBackoffInitial
	}
	max := s.Max
	if max <= 0 {
		max = DefaultRetryBackoffMax
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type AccessTokenOutcome string

const (
	AccessTokenOutcomeValid       AccessTokenOutcome = "valid"
	AccessTokenOutcomeRefreshed   AccessTokenOutcome = "refreshed"
	AccessTokenOutcomeUnavailable AccessTokenOutcome = "unavailable"
)

// AccessTokenResult is a tagged result: callers inspect Outcome instead of
// distinguishing error shapes. Reason is set when Outcome is unavailable.
type AccessTokenResult struct {
	Outcome     AccessTokenOutcome
	AccessToken string
	TokenType   string
	ExpiresAt   *time.Time
	Reason      string
}

type RefreshTokenRequest struct {
	UserID       string
	Provider     string
	CredentialID string
	Token        *ActiveToken
}

type RefreshTokenResult struct {
	Token      ActiveToken
	Credential Credential
	Attempts   int
}

// GetValidAccessToken resolves a usable access token for a user/provider
// pair, refreshing proactively when the token is inside the refresh lead
// window. Unusable credentials surface as an unavailable outcome, not an
// error; only infrastructure failures return a non-nil error.
func (s *Service) GetValidAccessToken(ctx context.Context, userID, provider string) (AccessTokenResult, error) {
	if s == nil || s.credentialStore == nil {
		return AccessTokenResult{}, s.mapError(fmt.Errorf("core: credential store is not configured"))
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" || provider == "" {
		return AccessTokenResult{}, s.mapError(fmt.Errorf("core: user id and provider are required"))
	}

	credential, err := s.credentialStore.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		if isNotFound(err) {
			return AccessTokenResult{Outcome: AccessTokenOutcomeUnavailable, Reason: "not_connected"}, nil
		}
		return AccessTokenResult{}, s.mapError(err)
	}
	if credential.Status == CredentialStatusDisconnected {
		return AccessTokenResult{Outcome: AccessTokenOutcomeUnavailable, Reason: "disconnected"}, nil
	}

	token, err := s.decodeTokenPayload(ctx, credential)
	if err != nil {
		return AccessTokenResult{}, s.mapError(err)
	}

	now := time.Now().UTC()
	state := ResolveTokenState(now, token, s.config.Tokens.refreshLeadWindow())

	if !ShouldRefreshToken(now, state, s.config.Tokens.refreshLeadWindow()) {
		if state.IsExpired {
			return AccessTokenResult{Outcome: AccessTokenOutcomeUnavailable, Reason: "expired"}, nil
		}
		return AccessTokenResult{
			Outcome:     AccessTokenOutcomeValid,
			AccessToken: token.AccessToken,
			TokenType:   token.TokenType,
			ExpiresAt:   cloneTimePointer(token.ExpiresAt),
		}, nil
	}

	refreshed, refreshErr := s.RefreshCredential(ctx, RefreshTokenRequest{
		UserID:       userID,
		Provider:     provider,
		CredentialID: credential.ID,
		Token:        &token,
	})
	if refreshErr != nil {
		return AccessTokenResult{
			Outcome: AccessTokenOutcomeUnavailable,
			Reason:  refreshErr.Error(),
		}, nil
	}

	return AccessTokenResult{
		Outcome:     AccessTokenOutcomeRefreshed,
		AccessToken: refreshed.Token.AccessToken,
		TokenType:   refreshed.Token.TokenType,
		ExpiresAt:   cloneTimePointer(refreshed.Token.ExpiresAt),
	}, nil
}

// RefreshCredential refreshes a credential under a per-credential lock with
// bounded retry. Transient provider failures retry with exponential backoff;
// authentication and other permanent failures stop immediately.
func (s *Service) RefreshCredential(ctx context.Context, req RefreshTokenRequest) (result RefreshTokenResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":      req.Provider,
		"user_id":       req.UserID,
		"credential_id": req.CredentialID,
	}
	defer func() {
		fields["attempts"] = result.Attempts
		s.observeOperation(ctx, startedAt, "token_refresh", err, fields)
	}()

	if s == nil || s.credentialStore == nil {
		return RefreshTokenResult{}, s.mapError(fmt.Errorf("core: credential store is not configured"))
	}

	credential, err := s.resolveCredential(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return RefreshTokenResult{}, err
	}
	fields["credential_id"] = credential.ID

	// A disconnected credential must not reach the provider until the
	// user reauthorizes it.
	if credential.Status == CredentialStatusDisconnected {
		err = s.mapError(NewAuthFailureError(
			fmt.Sprintf("credential %s is disconnected and needs reauthorization", credential.ID),
		))
		return RefreshTokenResult{}, err
	}

	token := ActiveToken{}
	if req.Token != nil {
		token = *req.Token
	} else {
		token, err = s.decodeTokenPayload(ctx, credential)
		if err != nil {
			err = s.mapError(err)
			return RefreshTokenResult{}, err
		}
	}
	// No refresh token is a permanent failure like any other: it counts
	// toward escalation so the credential eventually disconnects instead
	// of failing forever in place.
	if !token.Refreshable || strings.TrimSpace(token.RefreshToken) == "" {
		err = s.handleRefreshFailure(ctx, credential, NewPermanentProviderError(
			fmt.Sprintf("credential %s has no refresh token", credential.ID),
		), false)
		return RefreshTokenResult{}, err
	}

	unlock := func() {}
	if s.credentialLocker != nil && !isRefreshLockHeld(ctx, credential.ID) {
		lockHandle, lockErr := s.credentialLocker.Acquire(ctx, credential.ID, s.config.Tokens.refreshLockTTL())
		if lockErr != nil {
			err = s.mapError(lockErr)
			return RefreshTokenResult{}, err
		}
		ctx = context.WithValue(ctx, refreshLockContextKey{}, credential.ID)
		unlock = func() {
			_ = lockHandle.Unlock(ctx)
		}
	}
	defer unlock()

	adapter, err := s.resolveAdapter(credential.Provider)
	if err != nil {
		return RefreshTokenResult{}, err
	}

	maxAttempts := s.config.Tokens.maxRefreshAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, refreshErr := s.callAdapterRefresh(ctx, adapter, token)
		if refreshErr == nil {
			result, err = s.persistRefreshedToken(ctx, credential, token, outcome)
			if err != nil {
				err = s.mapError(err)
				return RefreshTokenResult{}, err
			}
			result.Attempts = attempt
			return result, nil
		}
		lastErr = refreshErr

		if !IsTransientFailure(refreshErr) {
			err = s.handleRefreshFailure(ctx, credential, refreshErr, false)
			result.Attempts = attempt
			return result, err
		}
		if attempt == maxAttempts {
			err = s.handleRefreshFailure(ctx, credential, refreshErr, true)
			result.Attempts = attempt
			return result, err
		}

		delay := s.config.Tokens.retryBackoffInitial()
		if s.refreshBackoffScheduler != nil {
			delay = s.refreshBackoffScheduler.NextDelay(attempt)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			err = s.mapError(waitErr)
			result.Attempts = attempt
			return result, err
		}
	}

	result.Attempts = maxAttempts
	err = s.mapError(lastErr)
	return result, err
}

// ValidateAccessToken checks the stored token against the provider. An
// invalid token gets one refresh attempt; when that also fails the grant
// is considered revoked, the credential is disconnected, and the user is
// notified. This is the only path that can disable a credential whose
// token has not yet expired.
func (s *Service) ValidateAccessToken(ctx context.Context, userID, provider string) (validation TokenValidation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider": provider,
		"user_id":  userID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "token_validate", err, fields)
	}()

	if s == nil || s.credentialStore == nil {
		err = s.mapError(fmt.Errorf("core: credential store is not configured"))
		return TokenValidation{}, err
	}
	credential, err := s.credentialStore.GetByUserProvider(ctx, strings.TrimSpace(userID), strings.TrimSpace(provider))
	if err != nil {
		err = s.mapError(err)
		return TokenValidation{}, err
	}
	token, err := s.decodeTokenPayload(ctx, credential)
	if err != nil {
		err = s.mapError(err)
		return TokenValidation{}, err
	}
	adapter, err := s.resolveAdapter(credential.Provider)
	if err != nil {
		return TokenValidation{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	defer cancel()
	validation, err = adapter.ValidateToken(callCtx, token)
	if err != nil {
		err = s.mapError(err)
		return TokenValidation{}, err
	}
	if validation.Valid {
		return validation, nil
	}

	s.audit(ctx, AuditEvent{
		UserID:    credential.UserID,
		Provider:  credential.Provider,
		Action:    "token.validate",
		Subject:   credential.ID,
		Status:    AuditStatusWarn,
		Detail:    validation.Reason,
		CreatedAt: time.Now().UTC(),
	})

	// One refresh attempt before declaring the grant revoked.
	if _, refreshErr := s.RefreshCredential(ctx, RefreshTokenRequest{
		UserID:       credential.UserID,
		Provider:     credential.Provider,
		CredentialID: credential.ID,
		Token:        &token,
	}); refreshErr == nil {
		return TokenValidation{Valid: true, Reason: "refreshed"}, nil
	}

	reason := strings.TrimSpace(validation.Reason)
	if reason == "" {
		reason = "provider rejected the access token"
	}
	now := time.Now().UTC()
	if current, getErr := s.credentialStore.Get(ctx, credential.ID); getErr == nil {
		credential = current
	}
	s.disconnectAndNotify(ctx, credential,
		fmt.Errorf("core: %s token revoked: %s", credential.Provider, reason),
		fmt.Sprintf("%s access token was revoked by the provider; please reconnect", credential.Provider),
		now,
	)
	return validation, nil
}

func (s *Service) resolveCredential(ctx context.Context, req RefreshTokenRequest) (Credential, error) {
	if id := strings.TrimSpace(req.CredentialID); id != "" {
		return s.credentialStore.Get(ctx, id)
	}
	userID := strings.TrimSpace(req.UserID)
	provider := strings.TrimSpace(req.Provider)
	if userID == "" || provider == "" {
		return Credential{}, fmt.Errorf("core: credential id or user id and provider are required")
	}
	return s.credentialStore.GetByUserProvider(ctx, userID, provider)
}

func (s *Service) callAdapterRefresh(ctx context.Context, adapter ProviderAdapter, token ActiveToken) (RefreshOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	defer cancel()
	return adapter.RefreshToken(callCtx, token)
}

func (s *Service) persistRefreshedToken(ctx context.Context, credential Credential, previous ActiveToken, outcome RefreshOutcome) (RefreshTokenResult, error) {
	refreshed := outcome.Token
	if strings.TrimSpace(refreshed.RefreshToken) == "" && !outcome.RotatedRefreshToken {
		refreshed.RefreshToken = previous.RefreshToken
	}
	if strings.TrimSpace(refreshed.TokenType) == "" {
		refreshed.TokenType = previous.TokenType
	}
	if len(refreshed.Scopes) == 0 {
		refreshed.Scopes = append([]string(nil), previous.Scopes...)
	}
	refreshed.CredentialID = credential.ID
	refreshed.UserID = credential.UserID
	refreshed.Provider = credential.Provider
	refreshed.Refreshable = strings.TrimSpace(refreshed.RefreshToken) != ""

	payload, err := s.encodeTokenPayload(ctx, refreshed)
	if err != nil {
		return RefreshTokenResult{}, err
	}
	codec := s.tokenCodec
	if codec == nil {
		codec = JSONTokenCodec{}
	}
	now := time.Now().UTC()
	saved, err := s.credentialStore.SaveTokens(ctx, SaveTokensInput{
		UserID:           credential.UserID,
		Provider:         credential.Provider,
		EncryptedPayload: payload,
		PayloadFormat:    codec.Format(),
		PayloadVersion:   codec.Version(),
		TokenType:        refreshed.TokenType,
		Scopes:           append([]string(nil), refreshed.Scopes...),
		ExpiresAt:        cloneTimePointer(refreshed.ExpiresAt),
		Refreshable:      refreshed.Refreshable,
		RefreshedAt:      &now,
	})
	if err != nil {
		return RefreshTokenResult{}, err
	}

	s.audit(ctx, AuditEvent{
		UserID:    credential.UserID,
		Provider:  credential.Provider,
		Action:    "token.refresh",
		Subject:   saved.ID,
		Status:    AuditStatusOK,
		CreatedAt: now,
	})
	return RefreshTokenResult{Token: refreshed, Credential: saved}, nil
}

// handleRefreshFailure records the failure, escalates according to the
// configured thresholds, and returns the mapped cause. Transient failures
// never disconnect a credential.
func (s *Service) handleRefreshFailure(ctx context.Context, credential Credential, cause error, transient bool) error {
	now := time.Now().UTC()
	updated, recordErr := s.credentialStore.RecordRefreshFailure(ctx, RefreshFailureInput{
		CredentialID: credential.ID,
		Transient:    transient,
		Reason:       cause.Error(),
		OccurredAt:   now,
	})
	if recordErr != nil {
		s.logError(ctx, "record refresh failure", map[string]any{
			"credential_id": credential.ID,
			"error":         recordErr.Error(),
		})
		return s.mapError(cause)
	}

	s.audit(ctx, AuditEvent{
		UserID:    updated.UserID,
		Provider:  updated.Provider,
		Action:    "token.refresh",
		Subject:   updated.ID,
		Status:    AuditStatusError,
		Detail:    cause.Error(),
		Metadata:  map[string]any{"transient": transient},
		CreatedAt: now,
	})

	if transient {
		s.escalateTransientFailure(ctx, updated, cause)
		return s.mapError(cause)
	}
	s.escalatePermanentFailure(ctx, updated, cause, now)
	return s.mapError(cause)
}

func (s *Service) escalateTransientFailure(ctx context.Context, credential Credential, cause error) {
	threshold := s.config.Tokens.rateLimitNoticeAfterTransient()
	if credential.TransientFailureCount != threshold {
		return
	}
	_ = s.notify(ctx, Notice{
		Kind:         NoticeKindRateLimited,
		UserID:       credential.UserID,
		Provider:     credential.Provider,
		CredentialID: credential.ID,
		Message:      fmt.Sprintf("%s token refresh has failed %d times in a row; the provider may be throttling requests", credential.Provider, credential.TransientFailureCount),
		Metadata:     map[string]any{"cause": cause.Error(), "rate_limited": IsRateLimited(cause)},
	})
}

func (s *Service) escalatePermanentFailure(ctx context.Context, credential Credential, cause error, now time.Time) {
	warnAt := s.config.Tokens.warnAfterFailures()
	disconnectAt := s.config.Tokens.disconnectAfterFailures()

	if credential.FailureCount == warnAt && credential.FailureCount < disconnectAt {
		_ = s.notify(ctx, Notice{
			Kind:         NoticeKindRefreshWarning,
			UserID:       credential.UserID,
			Provider:     credential.Provider,
			CredentialID: credential.ID,
			Message:      fmt.Sprintf("%s connection is failing to refresh and may need reauthorization", credential.Provider),
			Metadata:     map[string]any{"cause": cause.Error(), "failures": credential.FailureCount},
		})
		return
	}

	if credential.FailureCount < disconnectAt {
		return
	}
	s.disconnectAndNotify(ctx, credential, cause,
		fmt.Sprintf("%s integration was disconnected after repeated refresh failures; please reconnect", credential.Provider),
		now,
	)
}

// disconnectAndNotify flips a credential to disconnected and sends the
// disconnection notice exactly once, guarded by the stored notified-at
// marker so repeated failures stay quiet.
func (s *Service) disconnectAndNotify(ctx context.Context, credential Credential, cause error, message string, now time.Time) {
	if credential.Status != CredentialStatusDisconnected {
		if err := s.credentialStore.UpdateStatus(ctx, credential.ID, string(CredentialStatusDisconnected), cause.Error()); err != nil {
			s.logError(ctx, "disconnect credential", map[string]any{
				"credential_id": credential.ID,
				"error":         err.Error(),
			})
			return
		}
	}
	if credential.DisconnectNotifiedAt != nil {
		return
	}
	if err := s.notify(ctx, Notice{
		Kind:         NoticeKindDisconnected,
		UserID:       credential.UserID,
		Provider:     credential.Provider,
		CredentialID: credential.ID,
		Message:      message,
		Metadata:     map[string]any{"cause": cause.Error()},
	}); err != nil {
		return
	}
	_ = s.credentialStore.MarkDisconnectNotified(ctx, credential.ID, now)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCredentialNotFound) || errors.Is(err, ErrTriggerResourceNotFound) {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no rows")
}

type refreshLockContextKey struct{}

func isRefreshLockHeld(ctx context.Context, credentialID string) bool {
	if ctx == nil {
		return false
	}
	held, ok := ctx.Value(refreshLockContextKey{}).(string)
	return ok && held == credentialID
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type MemoryCredentialLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryCredentialLocker() *MemoryCredentialLocker {
	return &MemoryCredentialLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryCredentialLocker) Acquire(_ context.Context, credentialID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: credential locker is not configured")
	}
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return nil, fmt.Errorf("core: credential id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = DefaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[credentialID]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for credential %q", credentialID)
	}
	l.locks[credentialID] = now.Add(ttl)
	return &memoryLockHandle{locker: l, credentialID: credentialID}, nil
}

type memoryLockHandle struct {
	locker       *MemoryCredentialLocker
	credentialID string
	once         sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.credentialID)
		h.locker.mu.Unlock()
	})
	return nil
}
