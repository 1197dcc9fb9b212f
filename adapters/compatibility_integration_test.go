package adapters_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/nstoddard17/chainreact-app-9e-sub013/adapters/gocommand"
	"github.com/nstoddard17/chainreact-app-9e-sub013/adapters/gojob"
	"github.com/nstoddard17/chainreact-app-9e-sub013/adapters/gologger"
	integrationscommand "github.com/nstoddard17/chainreact-app-9e-sub013/command"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/inbound"
	"github.com/nstoddard17/chainreact-app-9e-sub013/scheduler"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("integrations", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	if err := enqueueAdapter.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:          scheduler.JobIDTokenSweep,
		Parameters:     map[string]any{"provider": "trello"},
		IdempotencyKey: "idem_1",
		DedupPolicy:    "drop",
	}); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != scheduler.JobIDTokenSweep {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("integrations.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_InboundDispatchThroughCommandWrappers(t *testing.T) {
	svc := &compatMutatingService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	refreshSub, err := gocommand.RegisterAndSubscribe(adapter, integrationscommand.NewRefreshCredentialCommand(svc))
	if err != nil {
		t.Fatalf("register refresh wrapper: %v", err)
	}
	defer refreshSub.Unsubscribe()

	lifecycleSub, err := gocommand.RegisterAndSubscribe(adapter, integrationscommand.NewTriggerLifecycleEventCommand(svc))
	if err != nil {
		t.Fatalf("register lifecycle wrapper: %v", err)
	}
	defer lifecycleSub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	dispatcher := inbound.NewDispatcher(inbound.NewInMemoryClaimStore())
	webhookHandler := &dispatchingInboundHandler{
		surface: inbound.SurfaceWebhook,
		run: func(ctx context.Context, req core.InboundRequest) error {
			// A provider auth challenge on the webhook surface forces a
			// credential refresh before the next delivery.
			return gocommand.Dispatch(ctx, integrationscommand.RefreshCredentialMessage{
				Request: core.RefreshTokenRequest{
					CredentialID: metadataString(req.Metadata, "credential_id"),
				},
			})
		},
	}
	lifecycleHandler := &dispatchingInboundHandler{
		surface: inbound.SurfaceLifecycle,
		run: func(ctx context.Context, req core.InboundRequest) error {
			return gocommand.Dispatch(ctx, integrationscommand.TriggerLifecycleEventMessage{
				Event: core.TriggerLifecycleEvent{
					Provider:    req.Provider,
					ExternalID:  metadataString(req.Metadata, "external_id"),
					ClientState: metadataString(req.Metadata, "client_state"),
					Kind:        metadataString(req.Metadata, "kind"),
				},
			})
		},
	}
	if err := dispatcher.Register(webhookHandler); err != nil {
		t.Fatalf("register webhook inbound handler: %v", err)
	}
	if err := dispatcher.Register(lifecycleHandler); err != nil {
		t.Fatalf("register lifecycle inbound handler: %v", err)
	}

	webhookResult, err := dispatcher.Dispatch(context.Background(), core.InboundRequest{
		Provider: "trello",
		Surface:  inbound.SurfaceWebhook,
		Metadata: map[string]any{
			"delivery_id":   "wh-1",
			"credential_id": "cred_1",
		},
	})
	if err != nil {
		t.Fatalf("dispatch webhook inbound request: %v", err)
	}
	if !webhookResult.Accepted {
		t.Fatalf("expected webhook inbound request accepted")
	}
	if svc.refreshCalls != 1 || svc.lastRefreshCredentialID != "cred_1" {
		t.Fatalf("expected refresh wrapper invocation through inbound dispatch")
	}

	lifecycleResult, err := dispatcher.Dispatch(context.Background(), core.InboundRequest{
		Provider: "microsoft",
		Surface:  inbound.SurfaceLifecycle,
		Metadata: map[string]any{
			"delivery_id":  "lc-1",
			"external_id":  "sub_1",
			"client_state": "state_1",
			"kind":         core.TriggerLifecycleReauthorizationRequired,
		},
	})
	if err != nil {
		t.Fatalf("dispatch lifecycle inbound request: %v", err)
	}
	if !lifecycleResult.Accepted {
		t.Fatalf("expected lifecycle inbound request accepted")
	}
	if svc.lifecycleCalls != 1 || svc.lastLifecycleKind != core.TriggerLifecycleReauthorizationRequired {
		t.Fatalf("expected lifecycle wrapper invocation through inbound dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "integrations.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type dispatchingInboundHandler struct {
	surface string
	run     func(ctx context.Context, req core.InboundRequest) error
}

func (h *dispatchingInboundHandler) Surface() string {
	return h.surface
}

func (h *dispatchingInboundHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.run == nil {
		return core.InboundResult{}, fmt.Errorf("handler is not configured")
	}
	if err := h.run(ctx, req); err != nil {
		return core.InboundResult{Accepted: false, StatusCode: 500}, err
	}
	return core.InboundResult{Accepted: true, StatusCode: 202}, nil
}

type compatMutatingService struct {
	refreshCalls            int
	lastRefreshCredentialID string
	lifecycleCalls          int
	lastLifecycleKind       string
}

func (s *compatMutatingService) RefreshCredential(_ context.Context, req core.RefreshTokenRequest) (core.RefreshTokenResult, error) {
	s.refreshCalls++
	s.lastRefreshCredentialID = req.CredentialID
	return core.RefreshTokenResult{Attempts: 1}, nil
}

func (s *compatMutatingService) ProcessExpiringTokens(context.Context) (core.TokenSweepReport, error) {
	return core.TokenSweepReport{}, nil
}

func (s *compatMutatingService) ActivateTrigger(context.Context, core.ActivateTriggerRequest) (core.TriggerResource, error) {
	return core.TriggerResource{}, nil
}

func (s *compatMutatingService) DeactivateTrigger(context.Context, string) (core.DeactivateTriggerReport, error) {
	return core.DeactivateTriggerReport{}, nil
}

func (s *compatMutatingService) RenewExpiringTriggerResources(context.Context) (core.TriggerSweepReport, error) {
	return core.TriggerSweepReport{}, nil
}

func (s *compatMutatingService) ReconcileTriggerResources(context.Context, core.ReconcileTriggersRequest) (core.ReconcileTriggersReport, error) {
	return core.ReconcileTriggersReport{}, nil
}

func (s *compatMutatingService) HandleTriggerLifecycleEvent(_ context.Context, event core.TriggerLifecycleEvent) error {
	s.lifecycleCalls++
	s.lastLifecycleKind = event.Kind
	return nil
}

var _ integrationscommand.MutatingService = (*compatMutatingService)(nil)

func metadataString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	raw, ok := metadata[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
