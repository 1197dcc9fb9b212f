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

type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *CredentialStore) Get(ctx context.Context, id string) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, core.ErrCredentialNotFound
		}
		return core.Credential{}, err
	}
	return record.toDomain(), nil
}

func (s *CredentialStore) GetByUserProvider(ctx context.Context, userID, provider string) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("provider", "=", strings.TrimSpace(provider)),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, err
	}
	if len(records) == 0 {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	return records[0].toDomain(), nil
}

func (s *CredentialStore) SaveTokens(ctx context.Context, in core.SaveTokensInput) (core.Credential, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.Provider = strings.TrimSpace(in.Provider)
	if in.UserID == "" || in.Provider == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: user id and provider are required")
	}
	if len(in.EncryptedPayload) == 0 {
		return core.Credential{}, fmt.Errorf("sqlstore: encrypted payload is required")
	}
	now := time.Now().UTC()

	var saved core.Credential
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, findErr := s.findByUserProviderTx(ctx, tx, in.UserID, in.Provider)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			record := newCredentialRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			saved = record.toDomain()
			return nil
		}

		existing.applySaveTokens(in, now)
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		saved = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}

	return saved, nil
}

func (s *CredentialStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Credential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			// Non-refreshable credentials stay in the sweep so their
			// permanent failures count toward disconnection.
			return q.
				Where("?TableAlias.status != ?", string(core.CredentialStatusDisconnected)).
				Where("?TableAlias.expires_at IS NOT NULL").
				Where("?TableAlias.expires_at <= ?", before.UTC())
		}),
		repository.OrderBy("expires_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Credential, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *CredentialStore) RecordRefreshFailure(ctx context.Context, in core.RefreshFailureInput) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	trimmedID := strings.TrimSpace(in.CredentialID)
	if trimmedID == "" {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, core.ErrCredentialNotFound
		}
		return core.Credential{}, err
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	if in.Transient {
		record.TransientFailureCount++
	} else {
		record.FailureCount++
	}
	record.LastRefreshError = strings.TrimSpace(in.Reason)
	record.UpdatedAt = occurredAt.UTC()

	updated, err := s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	if err != nil {
		return core.Credential{}, err
	}
	return updated.toDomain(), nil
}

func (s *CredentialStore) MarkDisconnectNotified(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.ErrCredentialNotFound
	}
	notifiedAt := at.UTC()
	result, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("disconnect_notified_at = ?", notifiedAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

func (s *CredentialStore) UpdateStatus(ctx context.Context, id string, status string, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.ErrCredentialNotFound
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrCredentialNotFound
		}
		return err
	}

	record.Status = strings.TrimSpace(status)
	record.UpdatedAt = time.Now().UTC()
	if trimmedReason := strings.TrimSpace(reason); trimmedReason != "" {
		record.LastRefreshError = trimmedReason
	}
	if record.Status == string(core.CredentialStatusActive) {
		record.LastRefreshError = ""
	}
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *CredentialStore) findByUserProviderTx(
	ctx context.Context,
	tx bun.Tx,
	userID string,
	provider string,
) (*credentialRecord, error) {
	record := &credentialRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider = ?", provider).
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
