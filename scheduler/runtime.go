package scheduler

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/nstoddard17/chainreact-app-9e-sub013/adapters/gocommand"
	"github.com/nstoddard17/chainreact-app-9e-sub013/adapters/gojob"
	"github.com/nstoddard17/chainreact-app-9e-sub013/adapters/gologger"
	integrationscommand "github.com/nstoddard17/chainreact-app-9e-sub013/command"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// CommandExecutor runs maintenance jobs by dispatching the matching
// command bus message, so job execution goes through the same handlers,
// validation, and result collection as direct bus callers.
type CommandExecutor struct{}

func (CommandExecutor) Execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("scheduler: job message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDTokenSweep:
		return gocommand.Dispatch(ctx, integrationscommand.SweepTokensMessage{})
	case JobIDTriggerRenewal:
		return gocommand.Dispatch(ctx, integrationscommand.RenewTriggersMessage{})
	case JobIDTriggerReconcile:
		return gocommand.Dispatch(ctx, integrationscommand.ReconcileTriggersMessage{
			Request: core.ReconcileTriggersRequest{
				UserID:        paramString(msg.Parameters, "user_id"),
				Provider:      paramString(msg.Parameters, "provider"),
				DeleteOrphans: paramBool(msg.Parameters, "delete_orphans"),
			},
		})
	default:
		return fmt.Errorf("scheduler: unknown job id %q", msg.JobID)
	}
}

// RuntimeConfig carries the external collaborators a maintenance runtime
// needs. Enqueuer and Dequeuer are go-job queue endpoints; Registry is
// optional and defaults to a fresh command registry.
type RuntimeConfig struct {
	Service        integrationscommand.MutatingService
	Enqueuer       queue.Enqueuer
	Dequeuer       queue.Dequeuer
	Registry       *gocmd.Registry
	LoggerProvider glog.LoggerProvider
	Logger         glog.Logger
	RetryPolicy    gojob.RetryPolicy
}

// Runtime owns the command registrations and queue adapters backing the
// maintenance scheduler and its worker.
type Runtime struct {
	Scheduler *Scheduler
	Worker    *Worker

	adapter       *gocommand.RegistryAdapter
	subscriptions []commanddispatcher.Subscription
	logger        glog.Logger
	jobLogger     job.Logger
}

// NewRuntime registers the maintenance commands on the bus and wires the
// scheduler and worker over the provided go-job queue endpoints.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("scheduler: maintenance service is required")
	}

	_, logger, _, jobLogger := gologger.ResolveForJob("integrations.scheduler", cfg.LoggerProvider, cfg.Logger)

	adapter := gocommand.NewRegistryAdapter(cfg.Registry)
	runtime := &Runtime{
		adapter:   adapter,
		logger:    logger,
		jobLogger: jobLogger,
	}

	sweepSub, err := gocommand.RegisterAndSubscribe(adapter, integrationscommand.NewSweepTokensCommand(cfg.Service))
	if err != nil {
		runtime.Close()
		return nil, err
	}
	runtime.subscriptions = append(runtime.subscriptions, sweepSub)

	renewSub, err := gocommand.RegisterAndSubscribe(adapter, integrationscommand.NewRenewTriggersCommand(cfg.Service))
	if err != nil {
		runtime.Close()
		return nil, err
	}
	runtime.subscriptions = append(runtime.subscriptions, renewSub)

	reconcileSub, err := gocommand.RegisterAndSubscribe(adapter, integrationscommand.NewReconcileTriggersCommand(cfg.Service))
	if err != nil {
		runtime.Close()
		return nil, err
	}
	runtime.subscriptions = append(runtime.subscriptions, reconcileSub)

	if err := adapter.Initialize(); err != nil {
		runtime.Close()
		return nil, err
	}

	if cfg.Enqueuer != nil {
		runtime.Scheduler = New(cfg.Service, gojob.NewEnqueuerAdapter(cfg.Enqueuer))
		runtime.Scheduler.Logger = logger
	}
	if cfg.Dequeuer != nil {
		runtime.Worker = NewWorker(gojob.NewDequeuerAdapter(cfg.Dequeuer, cfg.RetryPolicy), CommandExecutor{})
		runtime.Worker.Logger = logger
	}
	return runtime, nil
}

// JobLogger exposes the go-job logger bridge for callers embedding the
// runtime into a go-job engine.
func (r *Runtime) JobLogger() job.Logger {
	if r == nil {
		return nil
	}
	return r.jobLogger
}

// Close releases every command bus subscription the runtime holds.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

var _ Executor = CommandExecutor{}
