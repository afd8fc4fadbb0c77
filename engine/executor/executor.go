// Package executor implements the Task Executor (spec §4.4): given one
// task and one file, it resolves or allocates the task's run record,
// skips re-execution when the parameter fingerprint is unchanged, walks
// the declared dependency closure first, and otherwise invokes the
// task's work and stamps the result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/tasks"
	"github.com/lumenforge/contentbase/pkg/metrics"
	"github.com/lumenforge/contentbase/pkg/resilience"
)

// Exit codes per spec §6.
const (
	ExitSuccess           = 0
	ExitWorkError         = 1
	ExitDependencyFailure = 2
	ExitCancelled         = 3
)

// Result is what Run returns once a task has reached a terminal state
// (including the idempotent "already done" shortcut).
type Result struct {
	Record domain.TaskRunRecord
	// Reused reports whether this result came from an existing
	// successful run rather than a fresh execution.
	Reused bool
}

// Executor runs tasks from a tasks.Registry against an artifact.Store,
// optionally guarding each capability-backed task behind a circuit
// breaker keyed by task kind so a string of ModelTransient failures trips
// once instead of hammering a downed model backend file after file.
type Executor struct {
	registry *tasks.Registry
	store    *artifact.Store
	log      *slog.Logger

	breakersMu sync.Mutex
	breakers   map[domain.ContentKind]*resilience.Breaker

	limitersMu sync.Mutex
	limiters   map[domain.ContentKind]*resilience.Limiter

	// Metrics, when set, records per-task-type duration and outcome.
	// Left nil by New; callers that want metrics assign it after
	// construction (see cmd/contentd).
	Metrics *metrics.Registry
}

// New creates an Executor over a task registry and its artifact store.
func New(registry *tasks.Registry, store *artifact.Store, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		registry: registry,
		store:    store,
		log:      log,
		breakers: make(map[domain.ContentKind]*resilience.Breaker),
		limiters: make(map[domain.ContentKind]*resilience.Limiter),
	}
}

// Run executes tt for file, resolving its dependency closure first. It
// never auto-retries a failed run across fingerprints (§4.4's "dependency
// failure propagates as fatal for this task, not retried automatically");
// callers that want a retry re-invoke Run with the same arguments.
func (e *Executor) Run(ctx context.Context, tt domain.TaskType, file domain.FileInfo) (Result, error) {
	if err := domain.ValidateFileInfo(file); err != nil {
		return Result{}, err
	}
	if err := domain.ValidateTaskType(tt); err != nil {
		return Result{}, err
	}

	task, err := e.registry.Lookup(tt)
	if err != nil {
		return Result{}, err
	}

	fingerprint, err := task.Parameters(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: %s: compute fingerprint: %w", tt, err)
	}
	if err := domain.ValidateFingerprint(fingerprint); err != nil {
		return Result{}, err
	}

	// Step 1/2: an existing successful run with a matching fingerprint
	// short-circuits execution entirely.
	if active, found, err := e.store.ActiveRecord(ctx, file.FileIdentifier, tt); err != nil {
		return Result{}, fmt.Errorf("executor: %s: read active record: %w", tt, err)
	} else if found && active.Done() && active.ExitCode != nil && *active.ExitCode == ExitSuccess && active.Fingerprint == fingerprint {
		return Result{Record: active, Reused: true}, nil
	}

	// Step 3: dependencies run first, in topological order; any failure
	// is fatal for this task and is reported as a dependency failure, not
	// retried automatically.
	deps, err := e.registry.DependencyClosure(tt)
	if err != nil {
		return Result{}, fmt.Errorf("executor: %s: resolve dependencies: %w", tt, err)
	}
	for _, dep := range deps {
		if ctx.Err() != nil {
			return e.finishCancelled(tt, file, fingerprint, task.Output())
		}
		depResult, err := e.Run(ctx, dep, file)
		if err != nil || (depResult.Record.ExitCode != nil && *depResult.Record.ExitCode != ExitSuccess) {
			return e.finishDependencyFailure(tt, file, fingerprint, task.Output(), dep, err)
		}
	}

	if ctx.Err() != nil {
		return e.finishCancelled(tt, file, fingerprint, task.Output())
	}

	// Step 4: allocate a fresh run, execute the work, stamp the result.
	run, err := e.store.Allocate(file.FileIdentifier, tt, fingerprint, task.Output())
	if err != nil {
		return Result{}, fmt.Errorf("executor: %s: allocate run: %w", tt, err)
	}

	runErr := e.invoke(ctx, tt, task, file, run)

	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, domain.ErrCancelled):
		if err := run.Finish(ExitCancelled, "cancelled"); err != nil {
			return Result{}, fmt.Errorf("executor: %s: finish cancelled run: %w", tt, err)
		}
		return Result{Record: run.Record()}, domain.ErrCancelled
	case runErr != nil:
		if err := run.Finish(ExitWorkError, runErr.Error()); err != nil {
			return Result{}, fmt.Errorf("executor: %s: finish failed run: %w", tt, err)
		}
		e.log.Warn("task failed", "task_type", tt.String(), "file_identifier", file.FileIdentifier.String(), "err", runErr)
		return Result{Record: run.Record()}, runErr
	}

	if err := run.Finish(ExitSuccess, ""); err != nil {
		return Result{}, fmt.Errorf("executor: %s: finish successful run: %w", tt, err)
	}
	return Result{Record: run.Record()}, nil
}

// invoke runs the task's work, wrapping capability-backed task kinds in
// this executor's per-kind circuit breaker so a model backend outage
// trips once for every task sharing it instead of per call, and behind
// a per-kind rate limiter so a burst of pool workers hitting the same
// model backend queues instead of saturating it.
func (e *Executor) invoke(ctx context.Context, tt domain.TaskType, task tasks.Task, file domain.FileInfo, run *artifact.Run) error {
	start := time.Now()
	limiter := e.limiterFor(tt.Kind)
	breaker := e.breakerFor(tt.Kind)
	err := limiter.CallWait(ctx, func(ctx context.Context) error {
		return breaker.Call(ctx, func(ctx context.Context) error {
			return task.Run(ctx, file, run)
		})
	})
	e.recordMetrics(tt, start, err)
	return err
}

func (e *Executor) recordMetrics(tt domain.TaskType, start time.Time, err error) {
	if e.Metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, domain.ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	e.Metrics.Histogram(metrics.WithLabels("executor_task_duration_seconds", "task_type", tt.String()),
		"task execution duration by task type", nil).Since(start)
	e.Metrics.Counter(metrics.WithLabels("executor_task_total", "task_type", tt.String(), "outcome", outcome),
		"task executions by task type and outcome").Inc()
}

// limiterFor returns the token-bucket limiter guarding kind's model
// backend, creating it on first use. 8 req/s with a burst of 8 keeps a
// pool with many workers from firing a thundering herd of capability
// calls at one Ollama/whispers backend the moment a batch of files for
// the same content kind is ingested together.
func (e *Executor) limiterFor(kind domain.ContentKind) *resilience.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	l, ok := e.limiters[kind]
	if !ok {
		l = resilience.NewLimiter(resilience.LimiterOpts{Rate: 8, Burst: 8})
		e.limiters[kind] = l
	}
	return l
}

func (e *Executor) breakerFor(kind domain.ContentKind) *resilience.Breaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	b, ok := e.breakers[kind]
	if !ok {
		b = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 5,
			Timeout:       30 * time.Second,
			HalfOpenMax:   1,
		})
		e.breakers[kind] = b
	}
	return b
}

func (e *Executor) finishCancelled(tt domain.TaskType, file domain.FileInfo, fingerprint string, kind artifact.OutputKind) (Result, error) {
	run, err := e.store.Allocate(file.FileIdentifier, tt, fingerprint, kind)
	if err != nil {
		return Result{}, fmt.Errorf("executor: %s: allocate cancelled run: %w", tt, err)
	}
	if err := run.Finish(ExitCancelled, "cancelled before start"); err != nil {
		return Result{}, err
	}
	return Result{Record: run.Record()}, domain.ErrCancelled
}

func (e *Executor) finishDependencyFailure(tt domain.TaskType, file domain.FileInfo, fingerprint string, kind artifact.OutputKind, dep domain.TaskType, cause error) (Result, error) {
	run, err := e.store.Allocate(file.FileIdentifier, tt, fingerprint, kind)
	if err != nil {
		return Result{}, fmt.Errorf("executor: %s: allocate dependency-failure run: %w", tt, err)
	}
	msg := fmt.Sprintf("dependency %s failed", dep)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	if err := run.Finish(ExitDependencyFailure, msg); err != nil {
		return Result{}, err
	}
	wrapped := fmt.Errorf("executor: %s: %s", tt, msg)
	return Result{Record: run.Record()}, wrapped
}
