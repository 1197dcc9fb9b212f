package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/uptrace/bun"
)

// AuditStore persists integration audit trail entries. Metadata is passed
// through RedactMetadata before it reaches the table so raw tokens and
// secrets never land in storage.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEventRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEventRecord](db, auditEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *AuditStore) Record(ctx context.Context, event core.AuditEvent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(event.Action) == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}
	if strings.TrimSpace(string(event.Status)) == "" {
		event.Status = core.AuditStatusOK
	}
	record := newAuditEventRecord(event, time.Now().UTC())
	record.ID = uuid.NewString()
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *AuditStore) ListByUser(ctx context.Context, userID string, limit int) ([]core.AuditEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *AuditStore) ListByAction(ctx context.Context, action string, limit int) ([]core.AuditEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("action", "=", strings.TrimSpace(action)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
