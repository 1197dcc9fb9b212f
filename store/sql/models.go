package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:integration_credentials,alias:ic"`

	ID                    string     `bun:"id,pk"`
	UserID                string     `bun:"user_id,notnull"`
	Provider              string     `bun:"provider,notnull"`
	TokenType             string     `bun:"token_type,notnull"`
	EncryptedPayload      []byte     `bun:"encrypted_payload,notnull"`
	PayloadFormat         string     `bun:"payload_format,notnull"`
	PayloadVersion        int        `bun:"payload_version,notnull"`
	Scopes                []string   `bun:"scopes,type:jsonb,notnull"`
	ExpiresAt             *time.Time `bun:"expires_at,nullzero"`
	Refreshable           bool       `bun:"refreshable,notnull"`
	Status                string     `bun:"status,notnull"`
	FailureCount          int        `bun:"failure_count,notnull"`
	TransientFailureCount int        `bun:"transient_failure_count,notnull"`
	LastRefreshAt         *time.Time `bun:"last_refresh_at,nullzero"`
	LastRefreshError      string     `bun:"last_refresh_error"`
	DisconnectNotifiedAt  *time.Time `bun:"disconnect_notified_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type triggerResourceRecord struct {
	bun.BaseModel `bun:"table:integration_trigger_resources,alias:itr"`

	ID          string         `bun:"id,pk"`
	WorkflowID  string         `bun:"workflow_id,notnull"`
	UserID      string         `bun:"user_id,notnull"`
	Provider    string         `bun:"provider,notnull"`
	TriggerType string         `bun:"trigger_type,notnull"`
	ExternalID  string         `bun:"external_id"`
	CallbackURL string         `bun:"callback_url,notnull"`
	ClientState string         `bun:"client_state"`
	Status      string         `bun:"status,notnull"`
	ExpiresAt   *time.Time     `bun:"expires_at,nullzero"`
	Config      map[string]any `bun:"config,type:jsonb,notnull"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull"`
	LastError   string         `bun:"last_error"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt   *time.Time     `bun:"deleted_at,soft_delete"`
}

type auditEventRecord struct {
	bun.BaseModel `bun:"table:integration_audit_events,alias:iae"`

	ID        string         `bun:"id,pk"`
	UserID    string         `bun:"user_id"`
	Provider  string         `bun:"provider"`
	Action    string         `bun:"action,notnull"`
	Subject   string         `bun:"subject"`
	Status    string         `bun:"status,notnull"`
	Detail    string         `bun:"detail"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
