package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/identity"
)

var (
	_ gocmd.Querier[GetAccessTokenMessage, core.AccessTokenResult]       = (*GetAccessTokenQuery)(nil)
	_ gocmd.Querier[ValidateAccessTokenMessage, core.TokenValidation]    = (*ValidateAccessTokenQuery)(nil)
	_ gocmd.Querier[GetTriggerHealthMessage, core.TriggerHealthReport]   = (*GetTriggerHealthQuery)(nil)
	_ gocmd.Querier[ListWorkflowTriggersMessage, []core.TriggerResource] = (*ListWorkflowTriggersQuery)(nil)
	_ gocmd.Querier[ListUserTriggersMessage, []core.TriggerResource]     = (*ListUserTriggersQuery)(nil)
	_ gocmd.Querier[ListAuditTrailMessage, []core.AuditEvent]            = (*ListAuditTrailQuery)(nil)
	_ gocmd.Querier[GetAccountProfileMessage, identity.AccountProfile]   = (*GetAccountProfileQuery)(nil)
)
