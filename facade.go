package integrations

import (
	"context"
	"fmt"

	integrationscommand "github.com/nstoddard17/chainreact-app-9e-sub013/command"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/identity"
	integrationsquery "github.com/nstoddard17/chainreact-app-9e-sub013/query"
)

type CommandQueryService interface {
	integrationscommand.MutatingService
	integrationsquery.TokenReader
	integrationsquery.TriggerHealthReader
}

type Commands struct {
	RefreshCredential     *integrationscommand.RefreshCredentialCommand
	SweepTokens           *integrationscommand.SweepTokensCommand
	ActivateTrigger       *integrationscommand.ActivateTriggerCommand
	DeactivateTrigger     *integrationscommand.DeactivateTriggerCommand
	RenewTriggers         *integrationscommand.RenewTriggersCommand
	ReconcileTriggers     *integrationscommand.ReconcileTriggersCommand
	TriggerLifecycleEvent *integrationscommand.TriggerLifecycleEventCommand
}

type Queries struct {
	GetAccessToken       *integrationsquery.GetAccessTokenQuery
	ValidateAccessToken  *integrationsquery.ValidateAccessTokenQuery
	GetTriggerHealth     *integrationsquery.GetTriggerHealthQuery
	ListWorkflowTriggers *integrationsquery.ListWorkflowTriggersQuery
	ListUserTriggers     *integrationsquery.ListUserTriggersQuery
	ListAuditTrail       *integrationsquery.ListAuditTrailQuery
	GetAccountProfile    *integrationsquery.GetAccountProfileQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	triggerReader integrationsquery.TriggerResourceReader
	auditReader   integrationsquery.AuditTrailReader
	profileReader integrationsquery.AccountProfileReader
}

func WithTriggerResourceReader(reader integrationsquery.TriggerResourceReader) FacadeOption {
	return func(options *facadeOptions) {
		options.triggerReader = reader
	}
}

func WithAuditTrailReader(reader integrationsquery.AuditTrailReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

func WithAccountProfileReader(reader integrationsquery.AccountProfileReader) FacadeOption {
	return func(options *facadeOptions) {
		options.profileReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("integrations: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	if cfg.triggerReader == nil {
		cfg.triggerReader = resolveTriggerResourceReader(service)
	}
	if cfg.auditReader == nil {
		cfg.auditReader = resolveAuditTrailReader(service)
	}
	if cfg.profileReader == nil {
		cfg.profileReader = resolveAccountProfileReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		RefreshCredential:     integrationscommand.NewRefreshCredentialCommand(service),
		SweepTokens:           integrationscommand.NewSweepTokensCommand(service),
		ActivateTrigger:       integrationscommand.NewActivateTriggerCommand(service),
		DeactivateTrigger:     integrationscommand.NewDeactivateTriggerCommand(service),
		RenewTriggers:         integrationscommand.NewRenewTriggersCommand(service),
		ReconcileTriggers:     integrationscommand.NewReconcileTriggersCommand(service),
		TriggerLifecycleEvent: integrationscommand.NewTriggerLifecycleEventCommand(service),
	}
	facade.queries = Queries{
		GetAccessToken:       integrationsquery.NewGetAccessTokenQuery(service),
		ValidateAccessToken:  integrationsquery.NewValidateAccessTokenQuery(service),
		GetTriggerHealth:     integrationsquery.NewGetTriggerHealthQuery(service),
		ListWorkflowTriggers: integrationsquery.NewListWorkflowTriggersQuery(cfg.triggerReader),
		ListUserTriggers:     integrationsquery.NewListUserTriggersQuery(cfg.triggerReader),
		ListAuditTrail:       integrationsquery.NewListAuditTrailQuery(cfg.auditReader),
		GetAccountProfile:    integrationsquery.NewGetAccountProfileQuery(cfg.profileReader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveTriggerResourceReader(service CommandQueryService) integrationsquery.TriggerResourceReader {
	deps, ok := serviceDependencies(service)
	if !ok || deps.TriggerResourceStore == nil {
		return nil
	}
	return deps.TriggerResourceStore
}

func resolveAuditTrailReader(service CommandQueryService) integrationsquery.AuditTrailReader {
	deps, ok := serviceDependencies(service)
	if !ok || deps.AuditLogger == nil {
		return nil
	}
	reader, ok := deps.AuditLogger.(integrationsquery.AuditTrailReader)
	if !ok {
		return nil
	}
	return reader
}

// tokenReaderGetter narrows the facade's token reader to the slice the
// profile service needs, rebuilding the active token from the access
// token result.
type tokenReaderGetter struct {
	reader integrationsquery.TokenReader
}

func (g tokenReaderGetter) GetValidAccessToken(
	ctx context.Context,
	userID, provider string,
) (core.ActiveToken, error) {
	result, err := g.reader.GetValidAccessToken(ctx, userID, provider)
	if err != nil {
		return core.ActiveToken{}, err
	}
	return core.ActiveToken{
		UserID:      userID,
		Provider:    provider,
		TokenType:   result.TokenType,
		AccessToken: result.AccessToken,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func resolveAccountProfileReader(service CommandQueryService) integrationsquery.AccountProfileReader {
	profiles, err := identity.NewAccountProfileService(tokenReaderGetter{reader: service}, nil)
	if err != nil {
		return nil
	}
	return profiles
}

func serviceDependencies(service CommandQueryService) (core.ServiceDependencies, bool) {
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return core.ServiceDependencies{}, false
	}
	return provider.Dependencies(), true
}
