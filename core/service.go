package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrAdapterNotFound      = errors.New("core: adapter not found")
	ErrTriggersNotSupported = errors.New("core: provider does not support triggers")
)

type Service struct {
	config                  Config
	logger                  Logger
	loggerProvider          LoggerProvider
	metricsRecorder         MetricsRecorder
	errorFactory            ErrorFactory
	errorMapper             ErrorMapper
	secretProvider          SecretProvider
	persistenceClient       any
	repositoryFactory       any
	configProvider          ConfigProvider
	optionsResolver         OptionsResolver
	credentialLocker        CredentialLocker
	refreshBackoffScheduler RefreshBackoffScheduler
	registry                Registry
	credentialStore         CredentialStore
	triggerResourceStore    TriggerResourceStore
	notificationService     NotificationService
	auditLogger             AuditLogger
	tokenCodec              TokenCodec
	triggerEventSink        TriggerEventSink
}

type ServiceDependencies struct {
	Logger               Logger
	LoggerProvider       LoggerProvider
	MetricsRecorder      MetricsRecorder
	ErrorFactory         ErrorFactory
	ErrorMapper          ErrorMapper
	SecretProvider       SecretProvider
	PersistenceClient    any
	RepositoryFactory    any
	ConfigProvider       ConfigProvider
	OptionsResolver      OptionsResolver
	CredentialLocker     CredentialLocker
	RefreshScheduler     RefreshBackoffScheduler
	Registry             Registry
	CredentialStore      CredentialStore
	TriggerResourceStore TriggerResourceStore
	NotificationService  NotificationService
	AuditLogger          AuditLogger
	TokenCodec           TokenCodec
	TriggerEventSink     TriggerEventSink
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("integrations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("integrations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewAdapterRegistry()
	}
	if builder.tokenCodec == nil {
		builder.tokenCodec = JSONTokenCodec{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.credentialLocker == nil {
		builder.credentialLocker = NewMemoryCredentialLocker()
	}
	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: finalConfig.Tokens.retryBackoffInitial(),
			Max:     finalConfig.Tokens.retryBackoffMax(),
		}
	}

	if (builder.credentialStore == nil || builder.triggerResourceStore == nil) && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				if builder.credentialStore == nil {
					builder.credentialStore = storeProvider.CredentialStore()
				}
				if builder.triggerResourceStore == nil {
					builder.triggerResourceStore = storeProvider.TriggerResourceStore()
				}
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			if builder.credentialStore == nil {
				builder.credentialStore = storeProvider.CredentialStore()
			}
			if builder.triggerResourceStore == nil {
				builder.triggerResourceStore = storeProvider.TriggerResourceStore()
			}
		}
	}

	return &Service{
		config:                  finalConfig,
		logger:                  logger,
		loggerProvider:          provider,
		metricsRecorder:         builder.metricsRecorder,
		errorFactory:            builder.errorFactory,
		errorMapper:             builder.errorMapper,
		secretProvider:          builder.secretProvider,
		persistenceClient:       builder.persistenceClient,
		repositoryFactory:       builder.repositoryFactory,
		configProvider:          builder.configProvider,
		optionsResolver:         builder.optionsResolver,
		credentialLocker:        builder.credentialLocker,
		refreshBackoffScheduler: builder.refreshScheduler,
		registry:                builder.registry,
		credentialStore:         builder.credentialStore,
		triggerResourceStore:    builder.triggerResourceStore,
		notificationService:     builder.notificationService,
		auditLogger:             builder.auditLogger,
		tokenCodec:              builder.tokenCodec,
		triggerEventSink:        builder.triggerEventSink,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:               s.logger,
		LoggerProvider:       s.loggerProvider,
		MetricsRecorder:      s.metricsRecorder,
		ErrorFactory:         s.errorFactory,
		ErrorMapper:          s.errorMapper,
		SecretProvider:       s.secretProvider,
		PersistenceClient:    s.persistenceClient,
		RepositoryFactory:    s.repositoryFactory,
		ConfigProvider:       s.configProvider,
		OptionsResolver:      s.optionsResolver,
		CredentialLocker:     s.credentialLocker,
		RefreshScheduler:     s.refreshBackoffScheduler,
		Registry:             s.registry,
		CredentialStore:      s.credentialStore,
		TriggerResourceStore: s.triggerResourceStore,
		NotificationService:  s.notificationService,
		AuditLogger:          s.auditLogger,
		TokenCodec:           s.tokenCodec,
		TriggerEventSink:     s.triggerEventSink,
	}
}

func (s *Service) resolveAdapter(provider string) (ProviderAdapter, error) {
	if s == nil || s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: registry unavailable"))
	}
	provider = strings.TrimSpace(provider)
	adapter, ok := s.registry.Get(provider)
	if ok {
		return adapter, nil
	}
	wrapped := s.errorFactory(
		fmt.Sprintf("adapter for provider %q is not registered", provider),
		goerrors.CategoryNotFound,
	).WithTextCode(IntegrationErrorNotFound)
	return nil, wrapped.WithMetadata(map[string]any{"provider": provider})
}

func (s *Service) resolveTriggerProvider(provider string) (TriggerProvider, error) {
	adapter, err := s.resolveAdapter(provider)
	if err != nil {
		return nil, err
	}
	triggers, ok := adapter.(TriggerProvider)
	if !ok {
		return nil, s.mapError(fmt.Errorf("%w: %s", ErrTriggersNotSupported, provider))
	}
	return triggers, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) audit(ctx context.Context, event AuditEvent) {
	if s == nil || s.auditLogger == nil {
		return
	}
	_ = s.auditLogger.Record(ctx, event)
}

func (s *Service) notify(ctx context.Context, notice Notice) error {
	if s == nil || s.notificationService == nil {
		return nil
	}
	return s.notificationService.Notify(ctx, notice)
}
