package core

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ActivateTriggerRequest struct {
	WorkflowID  string
	UserID      string
	Provider    string
	TriggerType string
	Config      map[string]any
}

type DeactivateTriggerReport struct {
	RemoteDeleted  int
	RemoteFailures int
	LocalDeleted   int
}

type TriggerResourceHealth struct {
	ResourceID string
	ExternalID string
	Present    bool
	Expired    bool
	Renewed    bool
}

type TriggerHealthReport struct {
	Healthy   bool
	Resources []TriggerResourceHealth
}

// ActivateTrigger registers the provider-side resource backing a workflow
// trigger. Config validation happens before any remote call; the operation
// is idempotent, re-running it reuses a healthy existing registration.
func (s *Service) ActivateTrigger(ctx context.Context, req ActivateTriggerRequest) (resource TriggerResource, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":     req.Provider,
		"user_id":      req.UserID,
		"workflow_id":  req.WorkflowID,
		"trigger_type": req.TriggerType,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "trigger_activate", err, fields)
	}()

	if s == nil || s.triggerResourceStore == nil {
		err = s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
		return TriggerResource{}, err
	}
	workflowID := strings.TrimSpace(req.WorkflowID)
	userID := strings.TrimSpace(req.UserID)
	provider := strings.TrimSpace(req.Provider)
	triggerType := strings.TrimSpace(req.TriggerType)
	if workflowID == "" || userID == "" || provider == "" || triggerType == "" {
		err = s.mapError(fmt.Errorf("core: workflow id, user id, provider, and trigger type are required"))
		return TriggerResource{}, err
	}

	triggers, err := s.resolveTriggerProvider(provider)
	if err != nil {
		return TriggerResource{}, err
	}
	if validateErr := triggers.ValidateTriggerConfig(triggerType, req.Config); validateErr != nil {
		err = s.mapError(validateErr)
		return TriggerResource{}, err
	}

	now := time.Now().UTC()
	existing, found, err := s.findWorkflowTrigger(ctx, workflowID, provider, triggerType)
	if err != nil {
		err = s.mapError(err)
		return TriggerResource{}, err
	}
	if found && existing.Status == TriggerResourceStatusActive && existing.ExternalID != "" &&
		(existing.ExpiresAt == nil || existing.ExpiresAt.After(now)) {
		return existing, nil
	}

	tokenResult, err := s.GetValidAccessToken(ctx, userID, provider)
	if err != nil {
		return TriggerResource{}, err
	}
	if tokenResult.Outcome == AccessTokenOutcomeUnavailable {
		err = s.mapError(NewAuthFailureError(
			fmt.Sprintf("no usable %s token for user %s: %s", provider, userID, tokenResult.Reason),
		))
		return TriggerResource{}, err
	}

	clientState := strings.TrimSpace(resolveClientState(existing))
	if clientState == "" {
		clientState = uuid.NewString()
	}
	callbackURL := s.callbackURLFor(provider)

	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	defer cancel()
	registration, err := triggers.RegisterTrigger(callCtx, RegisterTriggerRequest{
		WorkflowID:  workflowID,
		UserID:      userID,
		TriggerType: triggerType,
		CallbackURL: callbackURL,
		ClientState: clientState,
		Config:      copyAnyMap(req.Config),
		Token: ActiveToken{
			UserID:      userID,
			Provider:    provider,
			AccessToken: tokenResult.AccessToken,
			TokenType:   tokenResult.TokenType,
		},
	})
	if err != nil {
		err = s.mapError(err)
		return TriggerResource{}, err
	}
	if strings.TrimSpace(registration.ClientState) != "" {
		clientState = strings.TrimSpace(registration.ClientState)
	}

	resource, err = s.triggerResourceStore.Upsert(ctx, UpsertTriggerResourceInput{
		WorkflowID:  workflowID,
		UserID:      userID,
		Provider:    provider,
		TriggerType: triggerType,
		ExternalID:  strings.TrimSpace(registration.ExternalID),
		CallbackURL: callbackURL,
		ClientState: clientState,
		Status:      TriggerResourceStatusActive,
		ExpiresAt:   cloneTimePointer(registration.ExpiresAt),
		Config:      copyAnyMap(req.Config),
		Metadata:    copyAnyMap(registration.Metadata),
	})
	if err != nil {
		// A referential constraint means the workflow row is not persisted
		// yet, as happens for test-mode runs. The remote resource works
		// either way, so report it untracked rather than failing activation.
		if isReferentialConstraintViolation(err) {
			s.logError(ctx, "trigger resource not persisted", map[string]any{
				"workflow_id": workflowID,
				"provider":    provider,
				"external_id": registration.ExternalID,
				"error":       err.Error(),
			})
			s.audit(ctx, AuditEvent{
				UserID:    userID,
				Provider:  provider,
				Action:    "trigger.activate",
				Subject:   workflowID,
				Status:    AuditStatusWarn,
				Detail:    "registered remote trigger without local row: " + err.Error(),
				Metadata:  map[string]any{"workflow_id": workflowID, "external_id": registration.ExternalID},
				CreatedAt: time.Now().UTC(),
			})
			return TriggerResource{
				WorkflowID:  workflowID,
				UserID:      userID,
				Provider:    provider,
				TriggerType: triggerType,
				ExternalID:  strings.TrimSpace(registration.ExternalID),
				CallbackURL: callbackURL,
				ClientState: clientState,
				Status:      TriggerResourceStatusActive,
				ExpiresAt:   cloneTimePointer(registration.ExpiresAt),
				Config:      copyAnyMap(req.Config),
				Metadata:    copyAnyMap(registration.Metadata),
			}, nil
		}
		err = s.mapError(err)
		return TriggerResource{}, err
	}

	s.audit(ctx, AuditEvent{
		UserID:    userID,
		Provider:  provider,
		Action:    "trigger.activate",
		Subject:   resource.ID,
		Status:    AuditStatusOK,
		Metadata:  map[string]any{"workflow_id": workflowID, "external_id": resource.ExternalID},
		CreatedAt: time.Now().UTC(),
	})
	return resource, nil
}

// DeactivateTrigger tears down every provider-side resource for a workflow.
// Remote deletion is best effort: a gone remote resource counts as deleted,
// other remote failures are recorded but never block the local cleanup.
// Local rows are always removed.
func (s *Service) DeactivateTrigger(ctx context.Context, workflowID string) (report DeactivateTriggerReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"workflow_id": workflowID,
	}
	defer func() {
		fields["remote_deleted"] = report.RemoteDeleted
		fields["remote_failures"] = report.RemoteFailures
		fields["local_deleted"] = report.LocalDeleted
		s.observeOperation(ctx, startedAt, "trigger_deactivate", err, fields)
	}()

	if s == nil || s.triggerResourceStore == nil {
		err = s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
		return DeactivateTriggerReport{}, err
	}
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		err = s.mapError(fmt.Errorf("core: workflow id is required"))
		return DeactivateTriggerReport{}, err
	}

	resources, err := s.triggerResourceStore.ListByWorkflow(ctx, workflowID)
	if err != nil {
		err = s.mapError(err)
		return DeactivateTriggerReport{}, err
	}

	for _, resource := range resources {
		if strings.TrimSpace(resource.ExternalID) == "" {
			continue
		}
		if deleteErr := s.deleteRemoteTrigger(ctx, resource); deleteErr != nil {
			report.RemoteFailures++
			s.audit(ctx, AuditEvent{
				UserID:    resource.UserID,
				Provider:  resource.Provider,
				Action:    "trigger.deactivate",
				Subject:   resource.ID,
				Status:    AuditStatusWarn,
				Detail:    deleteErr.Error(),
				Metadata:  map[string]any{"workflow_id": workflowID, "external_id": resource.ExternalID},
				CreatedAt: time.Now().UTC(),
			})
			continue
		}
		report.RemoteDeleted++
	}

	deleted, err := s.triggerResourceStore.DeleteByWorkflow(ctx, workflowID)
	if err != nil {
		err = s.mapError(err)
		return report, err
	}
	report.LocalDeleted = deleted

	s.audit(ctx, AuditEvent{
		Action:    "trigger.deactivate",
		Subject:   workflowID,
		Status:    AuditStatusOK,
		Metadata:  map[string]any{"remote_deleted": report.RemoteDeleted, "local_deleted": report.LocalDeleted},
		CreatedAt: time.Now().UTC(),
	})
	return report, nil
}

// CheckTriggerHealth verifies that every tracked resource for a workflow is
// still present on the provider side and not expired. Expired resources
// backed by a renewing adapter are renewed in place.
func (s *Service) CheckTriggerHealth(ctx context.Context, workflowID string) (report TriggerHealthReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"workflow_id": workflowID,
	}
	defer func() {
		fields["healthy"] = report.Healthy
		s.observeOperation(ctx, startedAt, "trigger_health", err, fields)
	}()

	if s == nil || s.triggerResourceStore == nil {
		err = s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
		return TriggerHealthReport{}, err
	}
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		err = s.mapError(fmt.Errorf("core: workflow id is required"))
		return TriggerHealthReport{}, err
	}

	resources, err := s.triggerResourceStore.ListByWorkflow(ctx, workflowID)
	if err != nil {
		err = s.mapError(err)
		return TriggerHealthReport{}, err
	}

	report.Healthy = true
	now := time.Now().UTC()
	remoteByProvider := map[string]map[string]RemoteTrigger{}
	for _, resource := range resources {
		health := TriggerResourceHealth{
			ResourceID: resource.ID,
			ExternalID: resource.ExternalID,
		}

		remote, ok := remoteByProvider[resource.Provider]
		if !ok {
			listed, listErr := s.listRemoteTriggers(ctx, resource)
			if listErr != nil {
				report.Healthy = false
				health.Present = false
				report.Resources = append(report.Resources, health)
				continue
			}
			remote = listed
			remoteByProvider[resource.Provider] = remote
		}

		_, health.Present = remote[strings.TrimSpace(resource.ExternalID)]
		health.Expired = resource.ExpiresAt != nil && !resource.ExpiresAt.After(now)

		if health.Present && !health.Expired && resource.ExpiresAt != nil &&
			!resource.ExpiresAt.After(now.Add(s.config.Triggers.renewalLeadWindow())) {
			if renewed, renewErr := s.renewTriggerResource(ctx, resource); renewErr == nil {
				health.Renewed = renewed
			}
		}
		if health.Expired && health.Present {
			if renewed, renewErr := s.renewTriggerResource(ctx, resource); renewErr == nil && renewed {
				health.Renewed = true
				health.Expired = false
			}
		}

		if !health.Present || health.Expired {
			report.Healthy = false
			reason := "remote trigger resource missing"
			status := TriggerResourceStatusErrored
			if health.Expired {
				reason = "trigger resource expired"
				status = TriggerResourceStatusExpired
			}
			_ = s.triggerResourceStore.UpdateState(ctx, resource.ID, string(status), reason)
		}
		report.Resources = append(report.Resources, health)
	}
	return report, nil
}

// HandleTriggerLifecycleEvent processes provider lifecycle notifications for
// a tracked resource. The client state must match before any mutation.
func (s *Service) HandleTriggerLifecycleEvent(ctx context.Context, event TriggerLifecycleEvent) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":    event.Provider,
		"external_id": event.ExternalID,
		"kind":        event.Kind,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "trigger_lifecycle_event", err, fields)
	}()

	if s == nil || s.triggerResourceStore == nil {
		err = s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
		return err
	}

	resource, err := s.triggerResourceStore.GetByExternalID(ctx, strings.TrimSpace(event.Provider), strings.TrimSpace(event.ExternalID))
	if err != nil {
		err = s.mapError(err)
		return err
	}
	if !clientStateMatches(resource.ClientState, event.ClientState) {
		err = s.mapError(NewClientStateMismatchError("lifecycle event client state mismatch"))
		return err
	}

	switch event.Kind {
	case TriggerLifecycleReauthorizationRequired:
		if _, renewErr := s.renewTriggerResource(ctx, resource); renewErr != nil {
			_ = s.triggerResourceStore.UpdateState(ctx, resource.ID, string(TriggerResourceStatusErrored), renewErr.Error())
			err = s.mapError(renewErr)
			return err
		}
	case TriggerLifecycleSubscriptionRemoved:
		// The errored state is terminal: the workflow owner recovers it by
		// deactivating and reactivating the trigger, never the service.
		_ = s.triggerResourceStore.UpdateState(ctx, resource.ID, string(TriggerResourceStatusErrored), "provider removed subscription")
		s.audit(ctx, AuditEvent{
			UserID:    resource.UserID,
			Provider:  resource.Provider,
			Action:    "trigger.lifecycle",
			Subject:   resource.ID,
			Status:    AuditStatusWarn,
			Detail:    "provider removed subscription",
			Metadata:  map[string]any{"workflow_id": resource.WorkflowID, "external_id": resource.ExternalID},
			CreatedAt: time.Now().UTC(),
		})
	case TriggerLifecycleMissed:
		s.audit(ctx, AuditEvent{
			UserID:    resource.UserID,
			Provider:  resource.Provider,
			Action:    "trigger.lifecycle",
			Subject:   resource.ID,
			Status:    AuditStatusWarn,
			Detail:    "provider reported missed notifications",
			CreatedAt: time.Now().UTC(),
		})
	default:
		err = s.mapError(fmt.Errorf("core: unknown lifecycle event kind %q", event.Kind))
		return err
	}
	return nil
}

// HandleTriggerEvent verifies and forwards a provider trigger notification
// to the configured sink.
func (s *Service) HandleTriggerEvent(ctx context.Context, event TriggerEvent) error {
	if s == nil || s.triggerResourceStore == nil {
		return s.mapError(fmt.Errorf("core: trigger resource store is not configured"))
	}
	resource, err := s.triggerResourceStore.GetByExternalID(ctx, strings.TrimSpace(event.Provider), strings.TrimSpace(event.ExternalID))
	if err != nil {
		return s.mapError(err)
	}
	if !clientStateMatches(resource.ClientState, event.ClientState) {
		return s.mapError(NewClientStateMismatchError("trigger event client state mismatch"))
	}
	if s.triggerEventSink == nil {
		return nil
	}
	return s.mapError(s.triggerEventSink.Deliver(ctx, event))
}

func (s *Service) findWorkflowTrigger(ctx context.Context, workflowID, provider, triggerType string) (TriggerResource, bool, error) {
	resources, err := s.triggerResourceStore.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return TriggerResource{}, false, err
	}
	for _, resource := range resources {
		if resource.Provider == provider && resource.TriggerType == triggerType {
			return resource, true, nil
		}
	}
	return TriggerResource{}, false, nil
}

func (s *Service) deleteRemoteTrigger(ctx context.Context, resource TriggerResource) error {
	triggers, err := s.resolveTriggerProvider(resource.Provider)
	if err != nil {
		return err
	}
	token, err := s.bestEffortToken(ctx, resource.UserID, resource.Provider)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	defer cancel()
	deleteErr := triggers.DeleteTrigger(callCtx, DeleteTriggerRequest{
		ExternalID: resource.ExternalID,
		Config:     copyAnyMap(resource.Config),
		Token:      token,
	})
	// A resource the provider no longer knows about is already deleted.
	if deleteErr != nil && isNotFound(deleteErr) {
		return nil
	}
	return deleteErr
}

func (s *Service) listRemoteTriggers(ctx context.Context, resource TriggerResource) (map[string]RemoteTrigger, error) {
	triggers, err := s.resolveTriggerProvider(resource.Provider)
	if err != nil {
		return nil, err
	}
	token, err := s.bestEffortToken(ctx, resource.UserID, resource.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	defer cancel()
	listed, err := triggers.ListTriggers(callCtx, ListRemoteTriggersRequest{
		UserID: resource.UserID,
		Config: copyAnyMap(resource.Config),
		Token:  token,
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]RemoteTrigger, len(listed))
	for _, remote := range listed {
		byID[strings.TrimSpace(remote.ExternalID)] = remote
	}
	return byID, nil
}

func (s *Service) renewTriggerResource(ctx context.Context, resource TriggerResource) (bool, error) {
	adapter, err := s.resolveAdapter(resource.Provider)
	if err != nil {
		return false, err
	}
	renewer, ok := adapter.(TriggerRenewer)
	if !ok {
		return false, nil
	}
	token, err := s.bestEffortToken(ctx, resource.UserID, resource.Provider)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.providerCallTimeout())
	defer cancel()
	registration, err := renewer.RenewTrigger(callCtx, RenewTriggerRequest{
		ExternalID: resource.ExternalID,
		Config:     copyAnyMap(resource.Config),
		Token:      token,
	})
	if err != nil {
		return false, err
	}

	externalID := strings.TrimSpace(registration.ExternalID)
	if externalID == "" {
		externalID = resource.ExternalID
	}
	_, err = s.triggerResourceStore.Upsert(ctx, UpsertTriggerResourceInput{
		WorkflowID:  resource.WorkflowID,
		UserID:      resource.UserID,
		Provider:    resource.Provider,
		TriggerType: resource.TriggerType,
		ExternalID:  externalID,
		CallbackURL: resource.CallbackURL,
		ClientState: resource.ClientState,
		Status:      TriggerResourceStatusActive,
		ExpiresAt:   cloneTimePointer(registration.ExpiresAt),
		Config:      copyAnyMap(resource.Config),
		Metadata:    mergeAnyMap(resource.Metadata, registration.Metadata),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) bestEffortToken(ctx context.Context, userID, provider string) (ActiveToken, error) {
	result, err := s.GetValidAccessToken(ctx, userID, provider)
	if err != nil {
		return ActiveToken{}, err
	}
	if result.Outcome == AccessTokenOutcomeUnavailable {
		return ActiveToken{}, NewAuthFailureError(
			fmt.Sprintf("no usable %s token for user %s: %s", provider, userID, result.Reason),
		)
	}
	return ActiveToken{
		UserID:      userID,
		Provider:    provider,
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
	}, nil
}

func (s *Service) callbackURLFor(provider string) string {
	base := strings.TrimRight(strings.TrimSpace(s.config.Triggers.WebhookBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/" + strings.TrimSpace(provider)
}

func resolveClientState(resource TriggerResource) string {
	return strings.TrimSpace(resource.ClientState)
}

// isReferentialConstraintViolation reports whether a persistence error
// came from a foreign key or similar referential constraint, as happens
// when the owning workflow row has not been saved yet.
func isReferentialConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "foreign key") ||
		strings.Contains(msg, "violates") && strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "sqlstate 23503")
}

func clientStateMatches(expected, received string) bool {
	expected = strings.TrimSpace(expected)
	received = strings.TrimSpace(received)
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
