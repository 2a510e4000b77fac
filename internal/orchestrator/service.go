// Package orchestrator runs the first-boot bootstrap: guard check, script
// discovery, script execution. It is the single entry point invoked at
// container start and the source of truth for the run's overall outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/swisswing/microservice-users/internal/discovery"
	"github.com/swisswing/microservice-users/internal/runner"
)

// ErrBootstrapInProgress is returned when Run is called while a bootstrap is
// already running.
var ErrBootstrapInProgress = errors.New("bootstrap already in progress")

// GuardCheck is satisfied by guard.DataDirGuard and guard.CatalogGuard.
type GuardCheck interface {
	AlreadyInitialized(ctx context.Context) (bool, error)
}

// ScriptSource is satisfied by *discovery.Scanner.
type ScriptSource interface {
	Discover() ([]discovery.Script, error)
}

// ScriptRunner is satisfied by *runner.Runner.
type ScriptRunner interface {
	Run(ctx context.Context, scripts []discovery.Script) ([]runner.Outcome, error)
}

// DBProber is satisfied by *database.Client.
type DBProber interface {
	Probe(ctx context.Context) ProbeResult
}

// Orchestrator drives the bootstrap state machine and health probes.
type Orchestrator struct {
	guard  GuardCheck
	source ScriptSource
	runner ScriptRunner
	db     DBProber

	inProgress atomic.Bool
	lastResult *Result
	resultMu   sync.RWMutex
}

// New constructs an Orchestrator from its four collaborators.
func New(g GuardCheck, source ScriptSource, r ScriptRunner, db DBProber) *Orchestrator {
	return &Orchestrator{
		guard:  g,
		source: source,
		runner: r,
		db:     db,
	}
}

// Run executes one bootstrap attempt:
//
//	NotStarted → CheckingGuard → Discovering → Running → Completed
//
// with Failed terminal from any of the three middle states. An
// already-initialized data directory short-circuits to Completed with zero
// script executions. The returned error is non-nil exactly when the run
// Failed, so callers can map it straight to a process exit code. Returns
// ErrBootstrapInProgress if a run is already active.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.inProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer o.inProgress.Store(false)

	result := &Result{
		RunID:     uuid.NewString(),
		State:     StateNotStarted,
		Scripts:   []ScriptResult{},
		StartedAt: time.Now().UTC(),
	}

	ctx, span := otel.Tracer("users-dbinit").Start(ctx, "dbinit.bootstrap")
	defer span.End()
	span.SetAttributes(attribute.String("bootstrap.run_id", result.RunID))

	slog.InfoContext(ctx, "bootstrap started", "run_id", result.RunID)

	result.State = StateCheckingGuard
	initialized, err := o.guard.AlreadyInitialized(ctx)
	if err != nil {
		return o.fail(ctx, span, result, fmt.Errorf("checking initialization state: %w", err))
	}
	if initialized {
		result.Skipped = true
		slog.InfoContext(ctx, "database already initialized, nothing to do", "run_id", result.RunID)
		return o.complete(ctx, span, result), nil
	}

	result.State = StateDiscovering
	scripts, err := o.source.Discover()
	if err != nil {
		return o.fail(ctx, span, result, err)
	}

	result.State = StateRunning
	outcomes, runErr := o.runner.Run(ctx, scripts)
	result.Scripts = toScriptResults(outcomes)
	if runErr != nil {
		return o.fail(ctx, span, result, runErr)
	}

	return o.complete(ctx, span, result), nil
}

// RunDeepHealth probes the database and the script directory concurrently.
// It reads no mutable bootstrap state and is safe alongside a running bootstrap.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, 2)
	var mu sync.Mutex
	var g errgroup.Group

	g.Go(func() error {
		probe := o.db.Probe(ctx)
		mu.Lock()
		results["database"] = probe
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		_, err := o.source.Discover()
		probe := ProbeResult{
			Name:      "init-scripts",
			OK:        err == nil,
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			probe.Error = err.Error()
		}
		mu.Lock()
		results["scripts"] = probe
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	return results
}

// InProgress returns true while a bootstrap run is active.
func (o *Orchestrator) InProgress() bool {
	return o.inProgress.Load()
}

// IsReady returns true once a run reached Completed, including the
// already-initialized no-op case.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.State == StateCompleted
}

// LastResult returns a copy of the most recent run's result, or nil if no run
// has finished yet.
func (o *Orchestrator) LastResult() *Result {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	if o.lastResult == nil {
		return nil
	}
	cp := *o.lastResult
	cp.Scripts = make([]ScriptResult, len(o.lastResult.Scripts))
	copy(cp.Scripts, o.lastResult.Scripts)
	return &cp
}

func (o *Orchestrator) complete(ctx context.Context, span trace.Span, result *Result) *Result {
	result.State = StateCompleted
	result.FinishedAt = time.Now().UTC()

	span.SetAttributes(attribute.String("bootstrap.state", result.State))
	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "bootstrap completed",
		"run_id", result.RunID,
		"scripts", len(result.Scripts),
		"skipped", result.Skipped,
	)

	o.publish(result)
	return result
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, result *Result, err error) (*Result, error) {
	// The state the failure occurred in is preserved in the log line; the
	// stored result is terminal Failed.
	failedIn := result.State
	result.State = StateFailed
	result.Error = err.Error()
	result.FinishedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.String("bootstrap.state", result.State),
		attribute.String("bootstrap.failed_in", failedIn),
	)
	span.SetStatus(codes.Error, err.Error())
	slog.ErrorContext(ctx, "bootstrap failed",
		"run_id", result.RunID,
		"failed_in", failedIn,
		"error", err,
	)

	o.publish(result)
	return result, err
}

func (o *Orchestrator) publish(result *Result) {
	o.resultMu.Lock()
	o.lastResult = result
	o.resultMu.Unlock()
}

func toScriptResults(outcomes []runner.Outcome) []ScriptResult {
	results := make([]ScriptResult, len(outcomes))
	for i, out := range outcomes {
		results[i] = ScriptResult{Name: out.Script, Status: StatusOK}
		if out.Err != nil {
			results[i].Status = StatusError
			results[i].Error = out.Err.Error()
		}
	}
	return results
}
