package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryCredentialStore struct {
	mu   sync.Mutex
	next int
	byID map[string]Credential
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{byID: map[string]Credential{}}
}

func (s *memoryCredentialStore) seed(credential Credential) Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(credential.ID) == "" {
		s.next++
		credential.ID = fmt.Sprintf("cred_%d", s.next)
	}
	if strings.TrimSpace(string(credential.Status)) == "" {
		credential.Status = CredentialStatusActive
	}
	s.byID[credential.ID] = credential
	return credential
}

func (s *memoryCredentialStore) Get(_ context.Context, id string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.byID[id]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return credential, nil
}

func (s *memoryCredentialStore) GetByUserProvider(_ context.Context, userID, provider string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, credential := range s.byID {
		if credential.UserID == userID && credential.Provider == provider {
			return credential, nil
		}
	}
	return Credential{}, ErrCredentialNotFound
}

func (s *memoryCredentialStore) SaveTokens(_ context.Context, in SaveTokensInput) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var credential Credential
	found := false
	for _, existing := range s.byID {
		if existing.UserID == in.UserID && existing.Provider == in.Provider {
			credential = existing
			found = true
			break
		}
	}
	if !found {
		s.next++
		credential = Credential{
			ID:        fmt.Sprintf("cred_%d", s.next),
			UserID:    in.UserID,
			Provider:  in.Provider,
			CreatedAt: time.Now().UTC(),
		}
	}
	credential.EncryptedPayload = append([]byte(nil), in.EncryptedPayload...)
	credential.PayloadFormat = in.PayloadFormat
	credential.PayloadVersion = in.PayloadVersion
	credential.TokenType = in.TokenType
	credential.Scopes = append([]string(nil), in.Scopes...)
	credential.ExpiresAt = in.ExpiresAt
	credential.Refreshable = in.Refreshable
	credential.LastRefreshAt = in.RefreshedAt
	credential.Status = CredentialStatusActive
	credential.FailureCount = 0
	credential.TransientFailureCount = 0
	credential.LastRefreshError = ""
	credential.UpdatedAt = time.Now().UTC()
	s.byID[credential.ID] = credential
	return credential, nil
}

func (s *memoryCredentialStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Credential{}
	for _, credential := range s.byID {
		if credential.ExpiresAt == nil {
			continue
		}
		if credential.Status == CredentialStatusDisconnected {
			continue
		}
		if credential.ExpiresAt.After(before) {
			continue
		}
		out = append(out, credential)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryCredentialStore) RecordRefreshFailure(_ context.Context, in RefreshFailureInput) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.byID[in.CredentialID]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	if in.Transient {
		credential.TransientFailureCount++
	} else {
		credential.FailureCount++
	}
	credential.LastRefreshError = in.Reason
	credential.UpdatedAt = in.OccurredAt
	s.byID[credential.ID] = credential
	return credential, nil
}

func (s *memoryCredentialStore) MarkDisconnectNotified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.byID[id]
	if !ok {
		return ErrCredentialNotFound
	}
	credential.DisconnectNotifiedAt = &at
	s.byID[id] = credential
	return nil
}

func (s *memoryCredentialStore) UpdateStatus(_ context.Context, id string, status string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.byID[id]
	if !ok {
		return ErrCredentialNotFound
	}
	credential.Status = CredentialStatus(status)
	if strings.TrimSpace(reason) != "" {
		credential.LastRefreshError = strings.TrimSpace(reason)
	}
	credential.UpdatedAt = time.Now().UTC()
	s.byID[id] = credential
	return nil
}

type memoryTriggerResourceStore struct {
	mu        sync.Mutex
	next      int
	byID      map[string]TriggerResource
	upsertErr error
}

func newMemoryTriggerResourceStore() *memoryTriggerResourceStore {
	return &memoryTriggerResourceStore{byID: map[string]TriggerResource{}}
}

func (s *memoryTriggerResourceStore) seed(resource TriggerResource) TriggerResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(resource.ID) == "" {
		s.next++
		resource.ID = fmt.Sprintf("trg_%d", s.next)
	}
	if strings.TrimSpace(string(resource.Status)) == "" {
		resource.Status = TriggerResourceStatusActive
	}
	s.byID[resource.ID] = resource
	return resource
}

func (s *memoryTriggerResourceStore) Get(_ context.Context, id string) (TriggerResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, ok := s.byID[id]
	if !ok {
		return TriggerResource{}, ErrTriggerResourceNotFound
	}
	return resource, nil
}

func (s *memoryTriggerResourceStore) GetByExternalID(_ context.Context, provider, externalID string) (TriggerResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, resource := range s.byID {
		if resource.Provider == provider && resource.ExternalID == externalID {
			return resource, nil
		}
	}
	return TriggerResource{}, ErrTriggerResourceNotFound
}

func (s *memoryTriggerResourceStore) ListByWorkflow(_ context.Context, workflowID string) ([]TriggerResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TriggerResource{}
	for _, resource := range s.byID {
		if resource.WorkflowID == workflowID {
			out = append(out, resource)
		}
	}
	return out, nil
}

func (s *memoryTriggerResourceStore) ListByUserProvider(_ context.Context, userID, provider string) ([]TriggerResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TriggerResource{}
	for _, resource := range s.byID {
		if resource.UserID == userID && resource.Provider == provider {
			out = append(out, resource)
		}
	}
	return out, nil
}

func (s *memoryTriggerResourceStore) ListExpiring(_ context.Context, before time.Time) ([]TriggerResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TriggerResource{}
	for _, resource := range s.byID {
		if resource.Status != TriggerResourceStatusActive || resource.ExpiresAt == nil {
			continue
		}
		if !resource.ExpiresAt.After(before) {
			out = append(out, resource)
		}
	}
	return out, nil
}

func (s *memoryTriggerResourceStore) Upsert(_ context.Context, in UpsertTriggerResourceInput) (TriggerResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return TriggerResource{}, s.upsertErr
	}
	var resource TriggerResource
	found := false
	for _, existing := range s.byID {
		if existing.WorkflowID == in.WorkflowID &&
			existing.Provider == in.Provider &&
			existing.TriggerType == in.TriggerType {
			resource = existing
			found = true
			break
		}
	}
	if !found {
		s.next++
		resource = TriggerResource{
			ID:        fmt.Sprintf("trg_%d", s.next),
			CreatedAt: time.Now().UTC(),
		}
	}
	resource.WorkflowID = in.WorkflowID
	resource.UserID = in.UserID
	resource.Provider = in.Provider
	resource.TriggerType = in.TriggerType
	resource.ExternalID = in.ExternalID
	resource.CallbackURL = in.CallbackURL
	resource.ClientState = in.ClientState
	resource.Status = in.Status
	resource.ExpiresAt = in.ExpiresAt
	resource.Config = copyAnyMap(in.Config)
	resource.Metadata = copyAnyMap(in.Metadata)
	resource.LastError = ""
	resource.UpdatedAt = time.Now().UTC()
	s.byID[resource.ID] = resource
	return resource, nil
}

func (s *memoryTriggerResourceStore) UpdateState(_ context.Context, id string, status string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, ok := s.byID[id]
	if !ok {
		return ErrTriggerResourceNotFound
	}
	resource.Status = TriggerResourceStatus(status)
	if strings.TrimSpace(reason) != "" {
		resource.LastError = strings.TrimSpace(reason)
	}
	resource.UpdatedAt = time.Now().UTC()
	s.byID[id] = resource
	return nil
}

func (s *memoryTriggerResourceStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memoryTriggerResourceStore) DeleteByWorkflow(_ context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, resource := range s.byID {
		if resource.WorkflowID == workflowID {
			delete(s.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

type memoryNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *memoryNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *memoryNotifier) byKind(kind NoticeKind) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []Notice{}
	for _, notice := range n.notices {
		if notice.Kind == kind {
			out = append(out, notice)
		}
	}
	return out
}

type memoryAuditLog struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *memoryAuditLog) Record(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *memoryAuditLog) byAction(action string) []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []AuditEvent{}
	for _, event := range l.events {
		if event.Action == action {
			out = append(out, event)
		}
	}
	return out
}

// recordingBackoffScheduler captures the delays the refresh loop asks for
// without actually sleeping.
type recordingBackoffScheduler struct {
	mu       sync.Mutex
	delegate RefreshBackoffScheduler
	delays   []time.Duration
}

func (s *recordingBackoffScheduler) NextDelay(attempt int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := time.Duration(0)
	if s.delegate != nil {
		delay = s.delegate.NextDelay(attempt)
	}
	s.delays = append(s.delays, delay)
	return 0
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

func seedTokenCredential(store *memoryCredentialStore, token ActiveToken, status CredentialStatus) Credential {
	payload, err := JSONTokenCodec{}.Encode(token)
	if err != nil {
		panic(err)
	}
	return store.seed(Credential{
		ID:            token.CredentialID,
		UserID:        token.UserID,
		Provider:      token.Provider,
		TokenType:     token.TokenType,
		Scopes:        append([]string(nil), token.Scopes...),
		ExpiresAt:     token.ExpiresAt,
		Refreshable:   token.Refreshable,
		Status:           status,
		PayloadFormat:    TokenPayloadFormatJSONV1,
		PayloadVersion:   TokenPayloadVersionV1,
		EncryptedPayload: payload,
	})
}

func timePtr(value time.Time) *time.Time {
	return &value
}
