package integrations

import "github.com/nstoddard17/chainreact-app-9e-sub013/core"

type Config = core.Config

type TokenConfig = core.TokenConfig

type TriggerConfig = core.TriggerConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type CredentialLocker = core.CredentialLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type Registry = core.Registry
type CredentialStore = core.CredentialStore
type TriggerResourceStore = core.TriggerResourceStore
type NotificationService = core.NotificationService
type AuditLogger = core.AuditLogger
type TokenCodec = core.TokenCodec
type TriggerEventSink = core.TriggerEventSink

type RefreshTokenRequest = core.RefreshTokenRequest
type AccessTokenResult = core.AccessTokenResult

type ActivateTriggerRequest = core.ActivateTriggerRequest

type ReconcileTriggersRequest = core.ReconcileTriggersRequest

type TriggerLifecycleEvent = core.TriggerLifecycleEvent
type TriggerEvent = core.TriggerEvent

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithSecretProvider          = core.WithSecretProvider
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithCredentialLocker        = core.WithCredentialLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithRegistry                = core.WithRegistry
	WithCredentialStore         = core.WithCredentialStore
	WithTriggerResourceStore    = core.WithTriggerResourceStore
	WithNotificationService     = core.WithNotificationService
	WithAuditLogger             = core.WithAuditLogger
	WithTokenCodec              = core.WithTokenCodec
	WithTriggerEventSink        = core.WithTriggerEventSink
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
