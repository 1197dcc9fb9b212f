package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentialStatusTransition      = errors.New("core: invalid credential status transition")
	ErrInvalidTriggerResourceStatusTransition = errors.New("core: invalid trigger resource status transition")
	ErrCredentialNotFound                     = errors.New("core: credential not found")
	ErrTriggerResourceNotFound                = errors.New("core: trigger resource not found")
)

type CredentialStatus string

const (
	CredentialStatusActive       CredentialStatus = "active"
	CredentialStatusExpired      CredentialStatus = "expired"
	CredentialStatusDisconnected CredentialStatus = "disconnected"
)

type Credential struct {
	ID                    string
	UserID                string
	Provider              string
	TokenType             string
	EncryptedPayload      []byte
	PayloadFormat         string
	PayloadVersion        int
	Scopes                []string
	ExpiresAt             *time.Time
	Refreshable           bool
	Status                CredentialStatus
	FailureCount          int
	TransientFailureCount int
	LastRefreshAt         *time.Time
	LastRefreshError      string
	DisconnectNotifiedAt  *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (c *Credential) TransitionTo(status CredentialStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastRefreshError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !credentialTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastRefreshError = strings.TrimSpace(reason)
	}
	if status == CredentialStatusActive {
		c.LastRefreshError = ""
	}
	return nil
}

func credentialTransitionAllowed(current, next CredentialStatus) bool {
	allowed := map[CredentialStatus]map[CredentialStatus]struct{}{
		CredentialStatusActive: {
			CredentialStatusExpired:      {},
			CredentialStatusDisconnected: {},
		},
		CredentialStatusExpired: {
			CredentialStatusActive:       {},
			CredentialStatusDisconnected: {},
		},
		CredentialStatusDisconnected: {
			CredentialStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type TriggerResourceStatus string

const (
	TriggerResourceStatusActive  TriggerResourceStatus = "active"
	TriggerResourceStatusExpired TriggerResourceStatus = "expired"
	TriggerResourceStatusErrored TriggerResourceStatus = "errored"
	TriggerResourceStatusDeleted TriggerResourceStatus = "deleted"
)

type TriggerResource struct {
	ID          string
	WorkflowID  string
	UserID      string
	Provider    string
	TriggerType string
	ExternalID  string
	CallbackURL string
	ClientState string
	Status      TriggerResourceStatus
	ExpiresAt   *time.Time
	Config      map[string]any
	Metadata    map[string]any
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *TriggerResource) TransitionTo(status TriggerResourceStatus, reason string, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			r.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !triggerResourceTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTriggerResourceStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		r.LastError = strings.TrimSpace(reason)
	}
	if status == TriggerResourceStatusActive {
		r.LastError = ""
	}
	return nil
}

func triggerResourceTransitionAllowed(current, next TriggerResourceStatus) bool {
	allowed := map[TriggerResourceStatus]map[TriggerResourceStatus]struct{}{
		TriggerResourceStatusActive: {
			TriggerResourceStatusExpired: {},
			TriggerResourceStatusErrored: {},
			TriggerResourceStatusDeleted: {},
		},
		TriggerResourceStatusExpired: {
			TriggerResourceStatusActive:  {},
			TriggerResourceStatusDeleted: {},
		},
		TriggerResourceStatusErrored: {
			TriggerResourceStatusActive:  {},
			TriggerResourceStatusDeleted: {},
		},
		TriggerResourceStatusDeleted: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type AuditStatus string

const (
	AuditStatusOK    AuditStatus = "ok"
	AuditStatusWarn  AuditStatus = "warn"
	AuditStatusError AuditStatus = "error"
)

type AuditEvent struct {
	ID        string
	UserID    string
	Provider  string
	Action    string
	Subject   string
	Status    AuditStatus
	Detail    string
	Metadata  map[string]any
	CreatedAt time.Time
}
