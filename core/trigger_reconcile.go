package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ReconcileTriggersRequest struct {
	UserID   string
	Provider string

	// DeleteOrphans opts in to removing remote resources that no tracked
	// workflow owns. Without it, orphans are only reported.
	DeleteOrphans bool
}

type ReconcileTriggersReport struct {
	Tracked        int
	Remote         int
	Orphans        []RemoteTrigger
	OrphansDeleted int
	MissingLocal   []string
}

// ReconcileTriggerResources diffs the provider's live trigger resources
// against the tracked rows for a user. Remote resources that point at our
// callback surface but have no tracked owner are orphans; tracked rows with
// no remote counterpart are marked errored.
func (s *Service) ReconcileTriggerResources(ctx context.Context, req ReconcileTriggersRequest) (report ReconcileTriggersReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider": req.Provider,
		"user_id":  req.UserID,
	}
	defer func() {
		fields["tracked"] = report.Tracked
		fields["remote"] = report.Remote
		fields["orphans"] = len(report.Orphans)
		fields["orphans_deleted"] = report.OrphansDeleted
		s.observeOperation(ctx, startedAt, "trigger_reconcile", err, fields)
	}()

	if s == nil || s.triggerResourceStore == nil {
		err = s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
		return ReconcileTriggersReport{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	provider := strings.TrimSpace(req.Provider)
	if userID == "" || provider == "" {
		err = s.mapError(fmt.Errorf("core: user id and provider are required"))
		return ReconcileTriggersReport{}, err
	}

	triggers, err := s.resolveTriggerProvider(provider)
	if err != nil {
		return ReconcileTriggersReport{}, err
	}
	token, err := s.bestEffortToken(ctx, userID, provider)
	if err != nil {
		return ReconcileTriggersReport{}, err
	}

	tracked, err := s.triggerResourceStore.ListByUserProvider(ctx, userID, provider)
	if err != nil {
		err = s.mapError(err)
		return ReconcileTriggersReport{}, err
	}
	report.Tracked = len(tracked)

	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	remote, err := triggers.ListTriggers(callCtx, ListRemoteTriggersRequest{
		UserID: userID,
		Token:  token,
	})
	cancel()
	if err != nil {
		err = s.mapError(err)
		return ReconcileTriggersReport{}, err
	}
	report.Remote = len(remote)

	trackedByExternalID := make(map[string]TriggerResource, len(tracked))
	for _, resource := range tracked {
		if id := strings.TrimSpace(resource.ExternalID); id != "" {
			trackedByExternalID[id] = resource
		}
	}

	callbackBase := strings.TrimRight(strings.TrimSpace(s.config.Triggers.WebhookBaseURL), "/")
	remoteByExternalID := make(map[string]struct{}, len(remote))
	for _, remoteTrigger := range remote {
		externalID := strings.TrimSpace(remoteTrigger.ExternalID)
		if externalID == "" {
			continue
		}
		remoteByExternalID[externalID] = struct{}{}
		if _, ok := trackedByExternalID[externalID]; ok {
			continue
		}
		// Only claim resources that deliver to us; another deployment may
		// legitimately own the rest.
		if callbackBase != "" && !strings.HasPrefix(strings.TrimSpace(remoteTrigger.CallbackURL), callbackBase) {
			continue
		}
		report.Orphans = append(report.Orphans, remoteTrigger)
	}

	if req.DeleteOrphans {
		for _, orphan := range report.Orphans {
			deleteCtx, deleteCancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
			deleteErr := triggers.DeleteTrigger(deleteCtx, DeleteTriggerRequest{
				ExternalID: orphan.ExternalID,
				Token:      token,
			})
			deleteCancel()
			if deleteErr != nil && !isNotFound(deleteErr) {
				s.audit(ctx, AuditEvent{
					UserID:    userID,
					Provider:  provider,
					Action:    "trigger.reconcile",
					Subject:   orphan.ExternalID,
					Status:    AuditStatusWarn,
					Detail:    deleteErr.Error(),
					CreatedAt: time.Now().UTC(),
				})
				continue
			}
			report.OrphansDeleted++
		}
	}

	for externalID, resource := range trackedByExternalID {
		if _, ok := remoteByExternalID[externalID]; ok {
			continue
		}
		report.MissingLocal = append(report.MissingLocal, resource.ID)
		if resource.Status == TriggerResourceStatusActive {
			_ = s.triggerResourceStore.UpdateState(ctx, resource.ID, string(TriggerResourceStatusErrored), "remote trigger resource missing")
		}
	}

	s.audit(ctx, AuditEvent{
		UserID:   userID,
		Provider: provider,
		Action:   "trigger.reconcile",
		Status:   AuditStatusOK,
		Metadata: map[string]any{
			"tracked":         report.Tracked,
			"remote":          report.Remote,
			"orphans":         len(report.Orphans),
			"orphans_deleted": report.OrphansDeleted,
			"missing_local":   len(report.MissingLocal),
		},
		CreatedAt: time.Now().UTC(),
	})
	return report, nil
}
