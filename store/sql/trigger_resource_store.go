package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/uptrace/bun"
)

type TriggerResourceStore struct {
	db   *bun.DB
	repo repository.Repository[*triggerResourceRecord]
}

func NewTriggerResourceStore(db *bun.DB) (*TriggerResourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*triggerResourceRecord](db, triggerResourceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid trigger resource repository wiring: %w", err)
		}
	}
	return &TriggerResourceStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *TriggerResourceStore) Get(ctx context.Context, id string) (core.TriggerResource, error) {
	if s == nil || s.repo == nil {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.TriggerResource{}, core.ErrTriggerResourceNotFound
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TriggerResource{}, core.ErrTriggerResourceNotFound
		}
		return core.TriggerResource{}, err
	}
	return record.toDomain(), nil
}

func (s *TriggerResourceStore) GetByExternalID(ctx context.Context, provider, externalID string) (core.TriggerResource, error) {
	if s == nil || s.repo == nil {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", strings.TrimSpace(provider)),
		repository.SelectBy("external_id", "=", strings.TrimSpace(externalID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.TriggerResource{}, err
	}
	if len(records) == 0 {
		return core.TriggerResource{}, core.ErrTriggerResourceNotFound
	}
	return records[0].toDomain(), nil
}

func (s *TriggerResourceStore) ListByWorkflow(ctx context.Context, workflowID string) ([]core.TriggerResource, error) {
	return s.list(ctx,
		repository.SelectBy("workflow_id", "=", strings.TrimSpace(workflowID)),
	)
}

func (s *TriggerResourceStore) ListByUserProvider(ctx context.Context, userID, provider string) ([]core.TriggerResource, error) {
	return s.list(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("provider", "=", strings.TrimSpace(provider)),
	)
}

func (s *TriggerResourceStore) ListExpiring(ctx context.Context, before time.Time) ([]core.TriggerResource, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.TriggerResourceStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.deleted_at IS NULL").
				Where("?TableAlias.expires_at IS NOT NULL").
				Where("?TableAlias.expires_at <= ?", before.UTC())
		}),
		repository.OrderBy("expires_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.TriggerResource, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *TriggerResourceStore) Upsert(ctx context.Context, in core.UpsertTriggerResourceInput) (core.TriggerResource, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	in.WorkflowID = strings.TrimSpace(in.WorkflowID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.TriggerType = strings.TrimSpace(in.TriggerType)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.CallbackURL = strings.TrimSpace(in.CallbackURL)
	in.ClientState = strings.TrimSpace(in.ClientState)
	if in.WorkflowID == "" || in.UserID == "" {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: workflow id and user id are required")
	}
	if in.Provider == "" || in.TriggerType == "" {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: provider and trigger type are required")
	}
	now := time.Now().UTC()

	var out core.TriggerResource
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, findErr := s.findByWorkflowTriggerTx(ctx, tx, in.WorkflowID, in.Provider, in.TriggerType)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			record := newTriggerResourceRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			out = record.toDomain()
			return nil
		}

		existing.applyUpsert(in, now)
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.TriggerResource{}, err
	}

	return out, nil
}

func (s *TriggerResourceStore) UpdateState(ctx context.Context, id string, status string, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.ErrTriggerResourceNotFound
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrTriggerResourceNotFound
		}
		return err
	}

	record.Status = strings.TrimSpace(status)
	record.UpdatedAt = time.Now().UTC()
	if trimmedReason := strings.TrimSpace(reason); trimmedReason != "" {
		record.LastError = trimmedReason
	}
	if record.Status == string(core.TriggerResourceStatusActive) {
		record.LastError = ""
	}
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *TriggerResourceStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.ErrTriggerResourceNotFound
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*triggerResourceRecord)(nil)).
		Set("deleted_at = ?", now).
		Set("status = ?", string(core.TriggerResourceStatusDeleted)).
		Set("updated_at = ?", now).
		Where("id = ?", trimmedID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return core.ErrTriggerResourceNotFound
	}
	return nil
}

func (s *TriggerResourceStore) DeleteByWorkflow(ctx context.Context, workflowID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	trimmedWorkflowID := strings.TrimSpace(workflowID)
	if trimmedWorkflowID == "" {
		return 0, fmt.Errorf("sqlstore: workflow id is required")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*triggerResourceRecord)(nil)).
		Set("deleted_at = ?", now).
		Set("status = ?", string(core.TriggerResourceStatusDeleted)).
		Set("updated_at = ?", now).
		Where("workflow_id = ?", trimmedWorkflowID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *TriggerResourceStore) list(ctx context.Context, selectors ...repository.SelectCriteria) ([]core.TriggerResource, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: trigger resource store is not configured")
	}
	selectors = append(selectors,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.TriggerResource, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *TriggerResourceStore) findByWorkflowTriggerTx(
	ctx context.Context,
	tx bun.Tx,
	workflowID string,
	provider string,
	triggerType string,
) (*triggerResourceRecord, error) {
	record := &triggerResourceRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.workflow_id = ?", workflowID).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.trigger_type = ?", triggerType).
		Where("?TableAlias.deleted_at IS NULL").
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, nil
	}
	return record, nil
}
