package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// Executor runs one dequeued job message.
type Executor interface {
	Execute(ctx context.Context, msg *core.JobExecutionMessage) error
}

// Worker drains the maintenance queue. Failed executions are nacked with
// exponential backoff; rate-limited failures wait for the full backoff cap
// so a throttling provider is not hammered.
type Worker struct {
	Dequeuer core.JobDequeuer
	Executor Executor
	Hook     core.JobWorkerHook
	Logger   core.Logger

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int

	attempts map[string]int
}

func NewWorker(dequeuer core.JobDequeuer, executor Executor) *Worker {
	return &Worker{
		Dequeuer:       dequeuer,
		Executor:       executor,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		MaxAttempts:    8,
		attempts:       map[string]int{},
	}
}

// Run processes deliveries until the context is canceled or the dequeuer
// reports a terminal error.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil || w.Executor == nil {
		return fmt.Errorf("scheduler: worker requires dequeuer and executor")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivery, err := w.Dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("scheduler: dequeue: %w", err)
		}
		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery core.JobDelivery) {
	if delivery == nil {
		return
	}
	msg := delivery.Message()
	if msg == nil {
		_ = delivery.Ack(ctx)
		return
	}

	attempt := w.nextAttempt(msg)
	startedAt := time.Now().UTC()
	w.hookStart(ctx, msg, attempt, startedAt)

	err := w.Executor.Execute(ctx, msg)
	duration := time.Since(startedAt)
	if err == nil {
		w.clearAttempts(msg)
		w.hookSuccess(ctx, msg, attempt, startedAt, duration)
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			w.logWarn(ctx, "ack failed", "job_id", msg.JobID, "error", ackErr.Error())
		}
		return
	}

	delay := w.backoff(attempt)
	if core.IsRateLimited(err) {
		delay = w.maxBackoff()
	}
	opts := core.JobNackOptions{
		Delay:   delay,
		Requeue: true,
		Reason:  err.Error(),
	}
	if w.MaxAttempts > 0 && attempt >= w.MaxAttempts {
		opts.Requeue = false
		opts.DeadLetter = true
		w.clearAttempts(msg)
		w.hookFailure(ctx, msg, attempt, startedAt, duration, err)
	} else {
		w.hookRetry(ctx, msg, attempt, delay, err)
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		w.logWarn(ctx, "nack failed", "job_id", msg.JobID, "error", nackErr.Error())
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	initial := w.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := w.maxBackoff()
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (w *Worker) maxBackoff() time.Duration {
	if w != nil && w.MaxBackoff > 0 {
		return w.MaxBackoff
	}
	return 5 * time.Minute
}

func (w *Worker) nextAttempt(msg *core.JobExecutionMessage) int {
	if w.attempts == nil {
		w.attempts = map[string]int{}
	}
	key := attemptKey(msg)
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) clearAttempts(msg *core.JobExecutionMessage) {
	if w.attempts == nil {
		return
	}
	delete(w.attempts, attemptKey(msg))
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if msg.IdempotencyKey != "" {
		return msg.IdempotencyKey
	}
	return msg.JobID
}

func (w *Worker) hookStart(ctx context.Context, msg *core.JobExecutionMessage, attempt int, startedAt time.Time) {
	if w.Hook == nil {
		return
	}
	w.Hook.OnStart(ctx, core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt})
}

func (w *Worker) hookSuccess(ctx context.Context, msg *core.JobExecutionMessage, attempt int, startedAt time.Time, duration time.Duration) {
	if w.Hook == nil {
		return
	}
	w.Hook.OnSuccess(ctx, core.JobWorkerEvent{
		Message: msg, Attempt: attempt, StartedAt: startedAt, Duration: duration,
	})
}

func (w *Worker) hookFailure(ctx context.Context, msg *core.JobExecutionMessage, attempt int, startedAt time.Time, duration time.Duration, err error) {
	if w.Hook == nil {
		return
	}
	w.Hook.OnFailure(ctx, core.JobWorkerEvent{
		Message: msg, Attempt: attempt, StartedAt: startedAt, Duration: duration, Err: err,
	})
}

func (w *Worker) hookRetry(ctx context.Context, msg *core.JobExecutionMessage, attempt int, delay time.Duration, err error) {
	if w.Hook == nil {
		return
	}
	w.Hook.OnRetry(ctx, core.JobWorkerEvent{Message: msg, Attempt: attempt, Delay: delay, Err: err})
}

func (w *Worker) logWarn(ctx context.Context, message string, args ...any) {
	if w == nil || w.Logger == nil {
		return
	}
	logger := w.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Warn(message, args...)
}

var _ Executor = (*Scheduler)(nil)
