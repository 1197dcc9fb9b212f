package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

type MutatingService interface {
	RefreshCredential(ctx context.Context, req core.RefreshTokenRequest) (core.RefreshTokenResult, error)
	ProcessExpiringTokens(ctx context.Context) (core.TokenSweepReport, error)
	ActivateTrigger(ctx context.Context, req core.ActivateTriggerRequest) (core.TriggerResource, error)
	DeactivateTrigger(ctx context.Context, workflowID string) (core.DeactivateTriggerReport, error)
	RenewExpiringTriggerResources(ctx context.Context) (core.TriggerSweepReport, error)
	ReconcileTriggerResources(ctx context.Context, req core.ReconcileTriggersRequest) (core.ReconcileTriggersReport, error)
	HandleTriggerLifecycleEvent(ctx context.Context, event core.TriggerLifecycleEvent) error
}

type RefreshCredentialCommand struct {
	service MutatingService
}

func NewRefreshCredentialCommand(service MutatingService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.RefreshCredential(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepTokensCommand struct {
	service MutatingService
}

func NewSweepTokensCommand(service MutatingService) *SweepTokensCommand {
	return &SweepTokensCommand{service: service}
}

func (c *SweepTokensCommand) Execute(ctx context.Context, msg SweepTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token sweep service is required")
	}
	out, err := c.service.ProcessExpiringTokens(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ActivateTriggerCommand struct {
	service MutatingService
}

func NewActivateTriggerCommand(service MutatingService) *ActivateTriggerCommand {
	return &ActivateTriggerCommand{service: service}
}

func (c *ActivateTriggerCommand) Execute(ctx context.Context, msg ActivateTriggerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: trigger activation service is required")
	}
	out, err := c.service.ActivateTrigger(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeactivateTriggerCommand struct {
	service MutatingService
}

func NewDeactivateTriggerCommand(service MutatingService) *DeactivateTriggerCommand {
	return &DeactivateTriggerCommand{service: service}
}

func (c *DeactivateTriggerCommand) Execute(ctx context.Context, msg DeactivateTriggerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: trigger deactivation service is required")
	}
	out, err := c.service.DeactivateTrigger(ctx, msg.WorkflowID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewTriggersCommand struct {
	service MutatingService
}

func NewRenewTriggersCommand(service MutatingService) *RenewTriggersCommand {
	return &RenewTriggersCommand{service: service}
}

func (c *RenewTriggersCommand) Execute(ctx context.Context, msg RenewTriggersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: trigger renewal service is required")
	}
	out, err := c.service.RenewExpiringTriggerResources(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReconcileTriggersCommand struct {
	service MutatingService
}

func NewReconcileTriggersCommand(service MutatingService) *ReconcileTriggersCommand {
	return &ReconcileTriggersCommand{service: service}
}

func (c *ReconcileTriggersCommand) Execute(ctx context.Context, msg ReconcileTriggersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: trigger reconciliation service is required")
	}
	out, err := c.service.ReconcileTriggerResources(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TriggerLifecycleEventCommand struct {
	service MutatingService
}

func NewTriggerLifecycleEventCommand(service MutatingService) *TriggerLifecycleEventCommand {
	return &TriggerLifecycleEventCommand{service: service}
}

func (c *TriggerLifecycleEventCommand) Execute(ctx context.Context, msg TriggerLifecycleEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: lifecycle event service is required")
	}
	return c.service.HandleTriggerLifecycleEvent(ctx, msg.Event)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
