package core

import (
	"context"
	"fmt"
	"time"
)

type TriggerSweepReport struct {
	Scanned int
	Renewed int
	Failed  int
}

// RenewExpiringTriggerResources renews every active trigger resource whose
// expiry falls inside the renewal lead window. Resources without an expiry
// never enter the sweep, and one failed renewal never aborts the rest.
func (s *Service) RenewExpiringTriggerResources(ctx context.Context) (report TriggerSweepReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = report.Scanned
		fields["renewed"] = report.Renewed
		fields["failed"] = report.Failed
		s.observeOperation(ctx, startedAt, "trigger_sweep", err, fields)
	}()

	if s == nil || s.triggerResourceStore == nil {
		err = s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
		return TriggerSweepReport{}, err
	}

	cutoff := time.Now().UTC().Add(s.config.Triggers.renewalLeadWindow())
	resources, err := s.triggerResourceStore.ListExpiring(ctx, cutoff)
	if err != nil {
		err = s.mapError(err)
		return TriggerSweepReport{}, err
	}

	for _, resource := range resources {
		if ctx.Err() != nil {
			err = s.mapError(ctx.Err())
			return report, err
		}
		if resource.ExpiresAt == nil || resource.Status != TriggerResourceStatusActive {
			continue
		}
		report.Scanned++

		renewed, renewErr := s.renewTriggerResource(ctx, resource)
		if renewErr != nil {
			report.Failed++
			status := TriggerResourceStatusErrored
			if isNotFound(renewErr) {
				// The provider no longer knows the resource; expiring it
				// lets health checks and reconciliation recreate it.
				status = TriggerResourceStatusExpired
			}
			_ = s.triggerResourceStore.UpdateState(ctx, resource.ID, string(status), renewErr.Error())
			continue
		}
		if renewed {
			report.Renewed++
		}
	}
	return report, nil
}
