package query

import (
	"context"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/identity"
)

type TokenReader interface {
	GetValidAccessToken(ctx context.Context, userID, provider string) (core.AccessTokenResult, error)
	ValidateAccessToken(ctx context.Context, userID, provider string) (core.TokenValidation, error)
}

type TriggerHealthReader interface {
	CheckTriggerHealth(ctx context.Context, workflowID string) (core.TriggerHealthReport, error)
}

type TriggerResourceReader interface {
	ListByWorkflow(ctx context.Context, workflowID string) ([]core.TriggerResource, error)
	ListByUserProvider(ctx context.Context, userID, provider string) ([]core.TriggerResource, error)
}

type AuditTrailReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]core.AuditEvent, error)
}

type AccountProfileReader interface {
	GetAccountProfile(ctx context.Context, userID, provider string) (identity.AccountProfile, error)
}

type GetAccessTokenQuery struct {
	reader TokenReader
}

func NewGetAccessTokenQuery(reader TokenReader) *GetAccessTokenQuery {
	return &GetAccessTokenQuery{reader: reader}
}

func (q *GetAccessTokenQuery) Query(ctx context.Context, msg GetAccessTokenMessage) (core.AccessTokenResult, error) {
	if q == nil || q.reader == nil {
		return core.AccessTokenResult{}, queryDependencyError("query: token reader is required")
	}
	return q.reader.GetValidAccessToken(ctx, msg.UserID, msg.Provider)
}

type ValidateAccessTokenQuery struct {
	reader TokenReader
}

func NewValidateAccessTokenQuery(reader TokenReader) *ValidateAccessTokenQuery {
	return &ValidateAccessTokenQuery{reader: reader}
}

func (q *ValidateAccessTokenQuery) Query(
	ctx context.Context,
	msg ValidateAccessTokenMessage,
) (core.TokenValidation, error) {
	if q == nil || q.reader == nil {
		return core.TokenValidation{}, queryDependencyError("query: token reader is required")
	}
	return q.reader.ValidateAccessToken(ctx, msg.UserID, msg.Provider)
}

type GetTriggerHealthQuery struct {
	reader TriggerHealthReader
}

func NewGetTriggerHealthQuery(reader TriggerHealthReader) *GetTriggerHealthQuery {
	return &GetTriggerHealthQuery{reader: reader}
}

func (q *GetTriggerHealthQuery) Query(
	ctx context.Context,
	msg GetTriggerHealthMessage,
) (core.TriggerHealthReport, error) {
	if q == nil || q.reader == nil {
		return core.TriggerHealthReport{}, queryDependencyError("query: trigger health reader is required")
	}
	return q.reader.CheckTriggerHealth(ctx, msg.WorkflowID)
}

type ListWorkflowTriggersQuery struct {
	reader TriggerResourceReader
}

func NewListWorkflowTriggersQuery(reader TriggerResourceReader) *ListWorkflowTriggersQuery {
	return &ListWorkflowTriggersQuery{reader: reader}
}

func (q *ListWorkflowTriggersQuery) Query(
	ctx context.Context,
	msg ListWorkflowTriggersMessage,
) ([]core.TriggerResource, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: trigger resource reader is required")
	}
	return q.reader.ListByWorkflow(ctx, msg.WorkflowID)
}

type ListUserTriggersQuery struct {
	reader TriggerResourceReader
}

func NewListUserTriggersQuery(reader TriggerResourceReader) *ListUserTriggersQuery {
	return &ListUserTriggersQuery{reader: reader}
}

func (q *ListUserTriggersQuery) Query(
	ctx context.Context,
	msg ListUserTriggersMessage,
) ([]core.TriggerResource, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: trigger resource reader is required")
	}
	return q.reader.ListByUserProvider(ctx, msg.UserID, msg.Provider)
}

type ListAuditTrailQuery struct {
	reader AuditTrailReader
}

func NewListAuditTrailQuery(reader AuditTrailReader) *ListAuditTrailQuery {
	return &ListAuditTrailQuery{reader: reader}
}

func (q *ListAuditTrailQuery) Query(ctx context.Context, msg ListAuditTrailMessage) ([]core.AuditEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit trail reader is required")
	}
	return q.reader.ListByUser(ctx, msg.UserID, msg.Limit)
}

type GetAccountProfileQuery struct {
	reader AccountProfileReader
}

func NewGetAccountProfileQuery(reader AccountProfileReader) *GetAccountProfileQuery {
	return &GetAccountProfileQuery{reader: reader}
}

func (q *GetAccountProfileQuery) Query(
	ctx context.Context,
	msg GetAccountProfileMessage,
) (identity.AccountProfile, error) {
	if q == nil || q.reader == nil {
		return identity.AccountProfile{}, queryDependencyError("query: account profile reader is required")
	}
	return q.reader.GetAccountProfile(ctx, msg.UserID, msg.Provider)
}
