package command

import (
	"strings"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const (
	TypeRefreshCredential     = "integrations.command.credential.refresh"
	TypeSweepTokens           = "integrations.command.tokens.sweep"
	TypeActivateTrigger       = "integrations.command.trigger.activate"
	TypeDeactivateTrigger     = "integrations.command.trigger.deactivate"
	TypeRenewTriggers         = "integrations.command.trigger.renew_expiring"
	TypeReconcileTriggers     = "integrations.command.trigger.reconcile"
	TypeTriggerLifecycleEvent = "integrations.command.trigger.lifecycle"
)

type RefreshCredentialMessage struct {
	Request core.RefreshTokenRequest
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	if strings.TrimSpace(m.Request.CredentialID) != "" {
		return nil
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required when credential id is absent")
	}
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandValidationError("provider", "provider is required when credential id is absent")
	}
	return nil
}

// SweepTokensMessage asks for one pass over credentials entering the
// refresh lead window. The sweep report is stored on the result collector.
type SweepTokensMessage struct{}

func (SweepTokensMessage) Type() string { return TypeSweepTokens }

func (SweepTokensMessage) Validate() error { return nil }

type ActivateTriggerMessage struct {
	Request core.ActivateTriggerRequest
}

func (ActivateTriggerMessage) Type() string { return TypeActivateTrigger }

func (m ActivateTriggerMessage) Validate() error {
	if strings.TrimSpace(m.Request.WorkflowID) == "" {
		return commandValidationError("workflow_id", "workflow id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Request.TriggerType) == "" {
		return commandValidationError("trigger_type", "trigger type is required")
	}
	return nil
}

type DeactivateTriggerMessage struct {
	WorkflowID string
}

func (DeactivateTriggerMessage) Type() string { return TypeDeactivateTrigger }

func (m DeactivateTriggerMessage) Validate() error {
	if strings.TrimSpace(m.WorkflowID) == "" {
		return commandValidationError("workflow_id", "workflow id is required")
	}
	return nil
}

type RenewTriggersMessage struct{}

func (RenewTriggersMessage) Type() string { return TypeRenewTriggers }

func (RenewTriggersMessage) Validate() error { return nil }

type ReconcileTriggersMessage struct {
	Request core.ReconcileTriggersRequest
}

func (ReconcileTriggersMessage) Type() string { return TypeReconcileTriggers }

func (m ReconcileTriggersMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	return nil
}

type TriggerLifecycleEventMessage struct {
	Event core.TriggerLifecycleEvent
}

func (TriggerLifecycleEventMessage) Type() string { return TypeTriggerLifecycleEvent }

func (m TriggerLifecycleEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Event.ExternalID) == "" {
		return commandValidationError("external_id", "external id is required")
	}
	if strings.TrimSpace(m.Event.Kind) == "" {
		return commandValidationError("kind", "lifecycle kind is required")
	}
	return nil
}
