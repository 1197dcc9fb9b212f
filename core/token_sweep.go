package core

import (
	"context"
	"fmt"
	"time"
)

// TokenSweepItem records the outcome of one credential in a sweep.
type TokenSweepItem struct {
	CredentialID string
	UserID       string
	Provider     string
	Refreshed    bool
	Detail       string
}

type TokenSweepReport struct {
	Processed int
	Refreshed int
	Failed    int
	Items     []TokenSweepItem
}

// ProcessExpiringTokens refreshes every credential whose expiry falls inside
// the refresh lead window. Items are processed sequentially and failures are
// isolated: one bad credential never aborts the sweep.
func (s *Service) ProcessExpiringTokens(ctx context.Context) (report TokenSweepReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["processed"] = report.Processed
		fields["refreshed"] = report.Refreshed
		fields["failed"] = report.Failed
		s.observeOperation(ctx, startedAt, "token_sweep", err, fields)
	}()

	if s == nil || s.credentialStore == nil {
		err = s.mapError(fmt.Errorf("core: credential store is not configured"))
		return TokenSweepReport{}, err
	}

	cutoff := time.Now().UTC().Add(s.config.Tokens.refreshLeadWindow())
	credentials, err := s.credentialStore.ListExpiring(ctx, cutoff, s.config.Tokens.sweepBatchSize())
	if err != nil {
		err = s.mapError(err)
		return TokenSweepReport{}, err
	}

	for _, credential := range credentials {
		if ctx.Err() != nil {
			err = s.mapError(ctx.Err())
			return report, err
		}
		// Non-expiring and disconnected credentials never enter the sweep.
		// Non-refreshable ones stay in: each pass records a permanent
		// failure until the credential disconnects.
		if credential.ExpiresAt == nil || credential.Status == CredentialStatusDisconnected {
			continue
		}
		report.Processed++

		item := TokenSweepItem{
			CredentialID: credential.ID,
			UserID:       credential.UserID,
			Provider:     credential.Provider,
		}
		_, refreshErr := s.RefreshCredential(ctx, RefreshTokenRequest{
			UserID:       credential.UserID,
			Provider:     credential.Provider,
			CredentialID: credential.ID,
		})
		if refreshErr != nil {
			report.Failed++
			item.Detail = refreshErr.Error()
		} else {
			report.Refreshed++
			item.Refreshed = true
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}
