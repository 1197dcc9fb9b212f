package query

import (
	"strings"
)

const (
	TypeGetAccessToken       = "integrations.query.token.access"
	TypeValidateAccessToken  = "integrations.query.token.validate"
	TypeGetTriggerHealth     = "integrations.query.trigger.health"
	TypeListWorkflowTriggers = "integrations.query.trigger.list_workflow"
	TypeListUserTriggers     = "integrations.query.trigger.list_user"
	TypeListAuditTrail       = "integrations.query.audit.list"
	TypeGetAccountProfile    = "integrations.query.account.profile"
)

type GetAccessTokenMessage struct {
	UserID   string
	Provider string
}

func (GetAccessTokenMessage) Type() string { return TypeGetAccessToken }

func (m GetAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	return nil
}

type ValidateAccessTokenMessage struct {
	UserID   string
	Provider string
}

func (ValidateAccessTokenMessage) Type() string { return TypeValidateAccessToken }

func (m ValidateAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	return nil
}

type GetTriggerHealthMessage struct {
	WorkflowID string
}

func (GetTriggerHealthMessage) Type() string { return TypeGetTriggerHealth }

func (m GetTriggerHealthMessage) Validate() error {
	if strings.TrimSpace(m.WorkflowID) == "" {
		return queryValidationError("workflow_id", "workflow id is required")
	}
	return nil
}

type ListWorkflowTriggersMessage struct {
	WorkflowID string
}

func (ListWorkflowTriggersMessage) Type() string { return TypeListWorkflowTriggers }

func (m ListWorkflowTriggersMessage) Validate() error {
	if strings.TrimSpace(m.WorkflowID) == "" {
		return queryValidationError("workflow_id", "workflow id is required")
	}
	return nil
}

type ListUserTriggersMessage struct {
	UserID   string
	Provider string
}

func (ListUserTriggersMessage) Type() string { return TypeListUserTriggers }

func (m ListUserTriggersMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	return nil
}

// ListAuditTrailMessage pages the audit log for a user. Limit zero falls
// back to the store default.
type ListAuditTrailMessage struct {
	UserID string
	Limit  int
}

func (ListAuditTrailMessage) Type() string { return TypeListAuditTrail }

func (m ListAuditTrailMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

// GetAccountProfileMessage resolves the provider-side account identity
// behind a user's connected credential.
type GetAccountProfileMessage struct {
	UserID   string
	Provider string
}

func (GetAccountProfileMessage) Type() string { return TypeGetAccountProfile }

func (m GetAccountProfileMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	return nil
}
