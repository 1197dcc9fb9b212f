package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig        Config
	logger               Logger
	loggerProvider       LoggerProvider
	metricsRecorder      MetricsRecorder
	errorFactory         ErrorFactory
	errorMapper          ErrorMapper
	secretProvider       SecretProvider
	persistenceClient    any
	repositoryFactory    any
	configProvider       ConfigProvider
	optionsResolver      OptionsResolver
	credentialLocker     CredentialLocker
	refreshScheduler     RefreshBackoffScheduler
	registry             Registry
	credentialStore      CredentialStore
	triggerResourceStore TriggerResourceStore
	notificationService  NotificationService
	auditLogger          AuditLogger
	tokenCodec           TokenCodec
	triggerEventSink     TriggerEventSink
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialLocker(locker CredentialLocker) Option {
	return func(b *serviceBuilder) {
		b.credentialLocker = locker
	}
}

func WithRefreshBackoffScheduler(scheduler RefreshBackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.refreshScheduler = scheduler
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithTriggerResourceStore(store TriggerResourceStore) Option {
	return func(b *serviceBuilder) {
		b.triggerResourceStore = store
	}
}

func WithNotificationService(notifier NotificationService) Option {
	return func(b *serviceBuilder) {
		b.notificationService = notifier
	}
}

func WithAuditLogger(audit AuditLogger) Option {
	return func(b *serviceBuilder) {
		b.auditLogger = audit
	}
}

func WithTokenCodec(codec TokenCodec) Option {
	return func(b *serviceBuilder) {
		b.tokenCodec = codec
	}
}

func WithTriggerEventSink(sink TriggerEventSink) Option {
	return func(b *serviceBuilder) {
		b.triggerEventSink = sink
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("integrations", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewAdapterRegistry(),
		tokenCodec:      JSONTokenCodec{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return integrationErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.ProviderCallTimeout > 0 {
		layer["provider_call_timeout"] = cfg.ProviderCallTimeout
	}

	tokens := map[string]any{}
	if includeZero || cfg.Tokens.RefreshLeadWindow > 0 {
		tokens["refresh_lead_window"] = cfg.Tokens.RefreshLeadWindow
	}
	if includeZero || cfg.Tokens.MaxRefreshAttempts > 0 {
		tokens["max_refresh_attempts"] = cfg.Tokens.MaxRefreshAttempts
	}
	if includeZero || cfg.Tokens.RetryBackoffInitial > 0 {
		tokens["retry_backoff_initial"] = cfg.Tokens.RetryBackoffInitial
	}
	if includeZero || cfg.Tokens.RetryBackoffMax > 0 {
		tokens["retry_backoff_max"] = cfg.Tokens.RetryBackoffMax
	}
	if includeZero || cfg.Tokens.WarnAfterFailures > 0 {
		tokens["warn_after_failures"] = cfg.Tokens.WarnAfterFailures
	}
	if includeZero || cfg.Tokens.DisconnectAfterFailures > 0 {
		tokens["disconnect_after_failures"] = cfg.Tokens.DisconnectAfterFailures
	}
	if includeZero || cfg.Tokens.RateLimitNoticeAfterTransient > 0 {
		tokens["rate_limit_notice_after_transient"] = cfg.Tokens.RateLimitNoticeAfterTransient
	}
	if includeZero || cfg.Tokens.SweepBatchSize > 0 {
		tokens["sweep_batch_size"] = cfg.Tokens.SweepBatchSize
	}
	if includeZero || cfg.Tokens.RefreshLockTTL > 0 {
		tokens["refresh_lock_ttl"] = cfg.Tokens.RefreshLockTTL
	}
	if len(tokens) > 0 {
		layer["tokens"] = tokens
	}

	triggers := map[string]any{}
	if includeZero || cfg.Triggers.RenewalLeadWindow > 0 {
		triggers["renewal_lead_window"] = cfg.Triggers.RenewalLeadWindow
	}
	if includeZero || strings.TrimSpace(cfg.Triggers.WebhookBaseURL) != "" {
		triggers["webhook_base_url"] = cfg.Triggers.WebhookBaseURL
	}
	if len(triggers) > 0 {
		layer["triggers"] = triggers
	}
	return layer
}
