package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RefreshCredentialMessage]     = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[SweepTokensMessage]           = (*SweepTokensCommand)(nil)
	_ gocmd.Commander[ActivateTriggerMessage]       = (*ActivateTriggerCommand)(nil)
	_ gocmd.Commander[DeactivateTriggerMessage]     = (*DeactivateTriggerCommand)(nil)
	_ gocmd.Commander[RenewTriggersMessage]         = (*RenewTriggersCommand)(nil)
	_ gocmd.Commander[ReconcileTriggersMessage]     = (*ReconcileTriggersCommand)(nil)
	_ gocmd.Commander[TriggerLifecycleEventMessage] = (*TriggerLifecycleEventCommand)(nil)
)
