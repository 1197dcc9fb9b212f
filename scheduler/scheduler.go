package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const (
	JobIDTokenSweep       = "integrations.tokens.sweep"
	JobIDTriggerRenewal   = "integrations.triggers.renew"
	JobIDTriggerReconcile = "integrations.triggers.reconcile"
)

// MaintenanceService is the slice of the integration service the
// scheduler drives.
type MaintenanceService interface {
	ProcessExpiringTokens(ctx context.Context) (core.TokenSweepReport, error)
	RenewExpiringTriggerResources(ctx context.Context) (core.TriggerSweepReport, error)
	ReconcileTriggerResources(ctx context.Context, req core.ReconcileTriggersRequest) (core.ReconcileTriggersReport, error)
}

// Scheduler enqueues maintenance jobs on fixed intervals. Idempotency keys
// are bucketed by interval, so restarts and overlapping schedulers collapse
// to one execution per bucket.
type Scheduler struct {
	Service  MaintenanceService
	Enqueuer core.JobEnqueuer
	Logger   core.Logger

	TokenSweepInterval      time.Duration
	TriggerRenewalInterval  time.Duration
	ReconcileInterval       time.Duration
	ReconcileDeleteOrphans  bool
	ReconcileUserProviderFn func(ctx context.Context) ([]core.ReconcileTriggersRequest, error)

	Now func() time.Time
}

func New(service MaintenanceService, enqueuer core.JobEnqueuer) *Scheduler {
	return &Scheduler{
		Service:                service,
		Enqueuer:               enqueuer,
		TokenSweepInterval:     time.Minute,
		TriggerRenewalInterval: 15 * time.Minute,
		ReconcileInterval:      6 * time.Hour,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run enqueues maintenance jobs until the context is canceled. Each job
// family ticks on its own interval.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.Enqueuer == nil {
		return fmt.Errorf("scheduler: enqueuer is not configured")
	}

	tokenTicker := time.NewTicker(s.tokenSweepInterval())
	defer tokenTicker.Stop()
	renewalTicker := time.NewTicker(s.triggerRenewalInterval())
	defer renewalTicker.Stop()
	reconcileTicker := time.NewTicker(s.reconcileInterval())
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tokenTicker.C:
			if err := s.EnqueueTokenSweep(ctx); err != nil {
				s.logWarn(ctx, "enqueue token sweep failed", "error", err.Error())
			}
		case <-renewalTicker.C:
			if err := s.EnqueueTriggerRenewal(ctx); err != nil {
				s.logWarn(ctx, "enqueue trigger renewal failed", "error", err.Error())
			}
		case <-reconcileTicker.C:
			if err := s.EnqueueReconciliation(ctx); err != nil {
				s.logWarn(ctx, "enqueue reconciliation failed", "error", err.Error())
			}
		}
	}
}

func (s *Scheduler) EnqueueTokenSweep(ctx context.Context) error {
	return s.enqueue(ctx, &core.JobExecutionMessage{
		JobID:          JobIDTokenSweep,
		IdempotencyKey: s.bucketKey(JobIDTokenSweep, s.tokenSweepInterval()),
		DedupPolicy:    "drop",
	})
}

func (s *Scheduler) EnqueueTriggerRenewal(ctx context.Context) error {
	return s.enqueue(ctx, &core.JobExecutionMessage{
		JobID:          JobIDTriggerRenewal,
		IdempotencyKey: s.bucketKey(JobIDTriggerRenewal, s.triggerRenewalInterval()),
		DedupPolicy:    "drop",
	})
}

// EnqueueReconciliation fans out one reconcile job per tracked
// user/provider pair. Without a pair source it enqueues nothing.
func (s *Scheduler) EnqueueReconciliation(ctx context.Context) error {
	if s == nil || s.ReconcileUserProviderFn == nil {
		return nil
	}
	requests, err := s.ReconcileUserProviderFn(ctx)
	if err != nil {
		return err
	}
	for _, req := range requests {
		userID := strings.TrimSpace(req.UserID)
		provider := strings.TrimSpace(req.Provider)
		if userID == "" || provider == "" {
			continue
		}
		msg := &core.JobExecutionMessage{
			JobID: JobIDTriggerReconcile,
			Parameters: map[string]any{
				"user_id":        userID,
				"provider":       provider,
				"delete_orphans": req.DeleteOrphans || s.ReconcileDeleteOrphans,
			},
			IdempotencyKey: s.bucketKey(
				JobIDTriggerReconcile+":"+userID+":"+provider,
				s.reconcileInterval(),
			),
			DedupPolicy: "drop",
		}
		if err := s.enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs one maintenance job message against the service.
func (s *Scheduler) Execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	if s == nil || s.Service == nil {
		return fmt.Errorf("scheduler: maintenance service is not configured")
	}
	if msg == nil {
		return fmt.Errorf("scheduler: job message is required")
	}

	switch strings.TrimSpace(msg.JobID) {
	case JobIDTokenSweep:
		report, err := s.Service.ProcessExpiringTokens(ctx)
		if err != nil {
			return err
		}
		s.logInfo(ctx, "token sweep finished",
			"processed", report.Processed, "refreshed", report.Refreshed, "failed", report.Failed)
		return nil
	case JobIDTriggerRenewal:
		report, err := s.Service.RenewExpiringTriggerResources(ctx)
		if err != nil {
			return err
		}
		s.logInfo(ctx, "trigger renewal finished",
			"scanned", report.Scanned, "renewed", report.Renewed, "failed", report.Failed)
		return nil
	case JobIDTriggerReconcile:
		req := core.ReconcileTriggersRequest{
			UserID:        paramString(msg.Parameters, "user_id"),
			Provider:      paramString(msg.Parameters, "provider"),
			DeleteOrphans: paramBool(msg.Parameters, "delete_orphans"),
		}
		report, err := s.Service.ReconcileTriggerResources(ctx, req)
		if err != nil {
			return err
		}
		s.logInfo(ctx, "reconciliation finished",
			"user_id", req.UserID, "provider", req.Provider,
			"tracked", report.Tracked, "remote", report.Remote,
			"orphans", len(report.Orphans), "orphans_deleted", report.OrphansDeleted)
		return nil
	default:
		return fmt.Errorf("scheduler: unknown job id %q", msg.JobID)
	}
}

func (s *Scheduler) enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if s == nil || s.Enqueuer == nil {
		return fmt.Errorf("scheduler: enqueuer is not configured")
	}
	return s.Enqueuer.Enqueue(ctx, msg)
}

// bucketKey truncates the current time to the interval so every enqueue
// inside one interval produces the same idempotency key.
func (s *Scheduler) bucketKey(jobID string, interval time.Duration) string {
	if interval <= 0 {
		interval = time.Minute
	}
	bucket := s.now().Truncate(interval).Unix()
	return fmt.Sprintf("%s:%d", jobID, bucket)
}

func (s *Scheduler) tokenSweepInterval() time.Duration {
	if s != nil && s.TokenSweepInterval > 0 {
		return s.TokenSweepInterval
	}
	return time.Minute
}

func (s *Scheduler) triggerRenewalInterval() time.Duration {
	if s != nil && s.TriggerRenewalInterval > 0 {
		return s.TriggerRenewalInterval
	}
	return 15 * time.Minute
}

func (s *Scheduler) reconcileInterval() time.Duration {
	if s != nil && s.ReconcileInterval > 0 {
		return s.ReconcileInterval
	}
	return 6 * time.Hour
}

func (s *Scheduler) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logInfo(ctx context.Context, message string, args ...any) {
	if s == nil || s.Logger == nil {
		return
	}
	logger := s.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Info(message, args...)
}

func (s *Scheduler) logWarn(ctx context.Context, message string, args ...any) {
	if s == nil || s.Logger == nil {
		return
	}
	logger := s.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Warn(message, args...)
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func paramBool(params map[string]any, key string) bool {
	if params == nil {
		return false
	}
	value, _ := params[key].(bool)
	return value
}
