package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ActiveToken struct {
	CredentialID string
	UserID       string
	Provider     string
	TokenType    string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    *time.Time
	Refreshable  bool
	Metadata     map[string]any
}

type RefreshOutcome struct {
	Token               ActiveToken
	RotatedRefreshToken bool
	Metadata            map[string]any
}

type TokenValidation struct {
	Valid    bool
	Scopes   []string
	Reason   string
	Metadata map[string]any
}

// ProviderAdapter is the token-side surface every integration implements.
type ProviderAdapter interface {
	ID() string
	RefreshToken(ctx context.Context, token ActiveToken) (RefreshOutcome, error)
	ValidateToken(ctx context.Context, token ActiveToken) (TokenValidation, error)
}

type TriggerRegistration struct {
	ExternalID  string
	ClientState string
	ExpiresAt   *time.Time
	Metadata    map[string]any
}

type RegisterTriggerRequest struct {
	WorkflowID  string
	UserID      string
	TriggerType string
	CallbackURL string
	ClientState string
	Config      map[string]any
	Token       ActiveToken
}

type DeleteTriggerRequest struct {
	ExternalID string
	Config     map[string]any
	Token      ActiveToken
}

type ListRemoteTriggersRequest struct {
	UserID string
	Config map[string]any
	Token  ActiveToken
}

type RenewTriggerRequest struct {
	ExternalID string
	Config     map[string]any
	Token      ActiveToken
}

type RemoteTrigger struct {
	ExternalID  string
	CallbackURL string
	ExpiresAt   *time.Time
	Metadata    map[string]any
}

// TriggerProvider is implemented by adapters whose provider exposes
// webhook or push-subscription trigger resources.
type TriggerProvider interface {
	ValidateTriggerConfig(triggerType string, config map[string]any) error
	RegisterTrigger(ctx context.Context, req RegisterTriggerRequest) (TriggerRegistration, error)
	DeleteTrigger(ctx context.Context, req DeleteTriggerRequest) error
	ListTriggers(ctx context.Context, req ListRemoteTriggersRequest) ([]RemoteTrigger, error)
}

// TriggerRenewer is implemented by adapters whose trigger resources expire
// and support in-place renewal.
type TriggerRenewer interface {
	RenewTrigger(ctx context.Context, req RenewTriggerRequest) (TriggerRegistration, error)
}

type SaveTokensInput struct {
	UserID           string
	Provider         string
	EncryptedPayload []byte
	PayloadFormat    string
	PayloadVersion   int
	TokenType        string
	Scopes           []string
	ExpiresAt        *time.Time
	Refreshable      bool
	RefreshedAt      *time.Time
}

type RefreshFailureInput struct {
	CredentialID string
	Transient    bool
	Reason       string
	OccurredAt   time.Time
}

type CredentialStore interface {
	Get(ctx context.Context, id string) (Credential, error)
	GetByUserProvider(ctx context.Context, userID, provider string) (Credential, error)
	SaveTokens(ctx context.Context, in SaveTokensInput) (Credential, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]Credential, error)
	RecordRefreshFailure(ctx context.Context, in RefreshFailureInput) (Credential, error)
	MarkDisconnectNotified(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status string, reason string) error
}

type UpsertTriggerResourceInput struct {
	WorkflowID  string
	UserID      string
	Provider    string
	TriggerType string
	ExternalID  string
	CallbackURL string
	ClientState string
	Status      TriggerResourceStatus
	ExpiresAt   *time.Time
	Config      map[string]any
	Metadata    map[string]any
}

type TriggerResourceStore interface {
	Get(ctx context.Context, id string) (TriggerResource, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (TriggerResource, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]TriggerResource, error)
	ListByUserProvider(ctx context.Context, userID, provider string) ([]TriggerResource, error)
	ListExpiring(ctx context.Context, before time.Time) ([]TriggerResource, error)
	Upsert(ctx context.Context, in UpsertTriggerResourceInput) (TriggerResource, error)
	UpdateState(ctx context.Context, id string, status string, reason string) error
	Delete(ctx context.Context, id string) error
	DeleteByWorkflow(ctx context.Context, workflowID string) (int, error)
}

type NoticeKind string

const (
	NoticeKindRefreshWarning NoticeKind = "refresh_warning"
	NoticeKindDisconnected   NoticeKind = "disconnected"
	NoticeKindRateLimited    NoticeKind = "rate_limited"
)

type Notice struct {
	Kind         NoticeKind
	UserID       string
	Provider     string
	CredentialID string
	Message      string
	Metadata     map[string]any
}

type NotificationService interface {
	Notify(ctx context.Context, notice Notice) error
}

type AuditLogger interface {
	Record(ctx context.Context, event AuditEvent) error
}

type StoreProvider interface {
	CredentialStore() CredentialStore
	TriggerResourceStore() TriggerResourceStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type Registry interface {
	Register(adapter ProviderAdapter) error
	Get(provider string) (ProviderAdapter, bool)
	List() []ProviderAdapter
}

const (
	TriggerLifecycleReauthorizationRequired = "reauthorizationRequired"
	TriggerLifecycleSubscriptionRemoved     = "subscriptionRemoved"
	TriggerLifecycleMissed                  = "missed"
)

type TriggerLifecycleEvent struct {
	Provider    string
	ExternalID  string
	ClientState string
	Kind        string
	Resource    map[string]any
	OccurredAt  time.Time
}

type TriggerEvent struct {
	Provider    string
	ExternalID  string
	ClientState string
	EventType   string
	Payload     map[string]any
	OccurredAt  time.Time
}

type TriggerEventSink interface {
	Deliver(ctx context.Context, event TriggerEvent) error
}

type InboundRequest struct {
	Provider string
	Surface  string
	Headers  map[string]string
	Query    map[string]string
	Body     []byte
	Metadata map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Body       []byte
	Metadata   map[string]any
}

type WebhookHandler interface {
	Handle(ctx context.Context, req InboundRequest) (InboundResult, error)
}

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
