package sqlstore

import (
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

func newCredentialRecord(in core.SaveTokensInput, now time.Time) *credentialRecord {
	record := &credentialRecord{
		UserID:           in.UserID,
		Provider:         in.Provider,
		TokenType:        in.TokenType,
		EncryptedPayload: append([]byte(nil), in.EncryptedPayload...),
		PayloadFormat:    in.PayloadFormat,
		PayloadVersion:   in.PayloadVersion,
		Scopes:           copyStringSlice(in.Scopes),
		Refreshable:      in.Refreshable,
		Status:           string(core.CredentialStatusActive),
		LastRefreshAt:    cloneTimePointer(in.RefreshedAt),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	record.ExpiresAt = cloneTimePointer(in.ExpiresAt)
	if record.PayloadFormat == "" {
		record.PayloadFormat = core.TokenPayloadFormatJSONV1
	}
	if record.PayloadVersion <= 0 {
		record.PayloadVersion = core.TokenPayloadVersionV1
	}
	return record
}

func (r *credentialRecord) applySaveTokens(in core.SaveTokensInput, now time.Time) {
	r.TokenType = in.TokenType
	r.EncryptedPayload = append([]byte(nil), in.EncryptedPayload...)
	r.PayloadFormat = in.PayloadFormat
	r.PayloadVersion = in.PayloadVersion
	if r.PayloadFormat == "" {
		r.PayloadFormat = core.TokenPayloadFormatJSONV1
	}
	if r.PayloadVersion <= 0 {
		r.PayloadVersion = core.TokenPayloadVersionV1
	}
	r.Scopes = copyStringSlice(in.Scopes)
	r.ExpiresAt = cloneTimePointer(in.ExpiresAt)
	r.Refreshable = in.Refreshable
	r.Status = string(core.CredentialStatusActive)
	r.FailureCount = 0
	r.TransientFailureCount = 0
	r.LastRefreshError = ""
	r.LastRefreshAt = cloneTimePointer(in.RefreshedAt)
	r.DisconnectNotifiedAt = nil
	r.UpdatedAt = now
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	return core.Credential{
		ID:                    r.ID,
		UserID:                r.UserID,
		Provider:              r.Provider,
		TokenType:             r.TokenType,
		EncryptedPayload:      append([]byte(nil), r.EncryptedPayload...),
		PayloadFormat:         r.PayloadFormat,
		PayloadVersion:        r.PayloadVersion,
		Scopes:                copyStringSlice(r.Scopes),
		ExpiresAt:             cloneTimePointer(r.ExpiresAt),
		Refreshable:           r.Refreshable,
		Status:                core.CredentialStatus(r.Status),
		FailureCount:          r.FailureCount,
		TransientFailureCount: r.TransientFailureCount,
		LastRefreshAt:         cloneTimePointer(r.LastRefreshAt),
		LastRefreshError:      r.LastRefreshError,
		DisconnectNotifiedAt:  cloneTimePointer(r.DisconnectNotifiedAt),
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func newTriggerResourceRecord(in core.UpsertTriggerResourceInput, now time.Time) *triggerResourceRecord {
	status := in.Status
	if status == "" {
		status = core.TriggerResourceStatusActive
	}
	return &triggerResourceRecord{
		WorkflowID:  in.WorkflowID,
		UserID:      in.UserID,
		Provider:    in.Provider,
		TriggerType: in.TriggerType,
		ExternalID:  in.ExternalID,
		CallbackURL: in.CallbackURL,
		ClientState: in.ClientState,
		Status:      string(status),
		ExpiresAt:   cloneTimePointer(in.ExpiresAt),
		Config:      copyAnyMap(in.Config),
		Metadata:    copyAnyMap(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *triggerResourceRecord) applyUpsert(in core.UpsertTriggerResourceInput, now time.Time) {
	status := in.Status
	if status == "" {
		status = core.TriggerResourceStatusActive
	}
	r.UserID = in.UserID
	r.ExternalID = in.ExternalID
	r.CallbackURL = in.CallbackURL
	r.ClientState = in.ClientState
	r.Status = string(status)
	r.ExpiresAt = cloneTimePointer(in.ExpiresAt)
	r.Config = copyAnyMap(in.Config)
	r.Metadata = copyAnyMap(in.Metadata)
	r.LastError = ""
	r.UpdatedAt = now
	r.DeletedAt = nil
}

func (r *triggerResourceRecord) toDomain() core.TriggerResource {
	if r == nil {
		return core.TriggerResource{}
	}
	return core.TriggerResource{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		UserID:      r.UserID,
		Provider:    r.Provider,
		TriggerType: r.TriggerType,
		ExternalID:  r.ExternalID,
		CallbackURL: r.CallbackURL,
		ClientState: r.ClientState,
		Status:      core.TriggerResourceStatus(r.Status),
		ExpiresAt:   cloneTimePointer(r.ExpiresAt),
		Config:      copyAnyMap(r.Config),
		Metadata:    copyAnyMap(r.Metadata),
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func newAuditEventRecord(event core.AuditEvent, now time.Time) *auditEventRecord {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &auditEventRecord{
		UserID:    event.UserID,
		Provider:  event.Provider,
		Action:    event.Action,
		Subject:   event.Subject,
		Status:    string(event.Status),
		Detail:    event.Detail,
		Metadata:  RedactMetadata(event.Metadata),
		CreatedAt: createdAt,
	}
}

func (r *auditEventRecord) toDomain() core.AuditEvent {
	if r == nil {
		return core.AuditEvent{}
	}
	return core.AuditEvent{
		ID:        r.ID,
		UserID:    r.UserID,
		Provider:  r.Provider,
		Action:    r.Action,
		Subject:   r.Subject,
		Status:    core.AuditStatus(r.Status),
		Detail:    r.Detail,
		Metadata:  copyAnyMap(r.Metadata),
		CreatedAt: r.CreatedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyStringSlice(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	return append([]string(nil), in...)
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
