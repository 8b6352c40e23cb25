package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Run states reported by Runner.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// RunStatus is a snapshot of a background run.
type RunStatus struct {
	List       string      `json:"list"`
	State      string      `json:"state"`
	Progress   *Progress   `json:"progress,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

type runEntry struct {
	status RunStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner starts orchestrator runs in the background and tracks the latest
// run of each list.
type Runner struct {
	orch *Orchestrator
	base context.Context

	mu   sync.Mutex
	runs map[string]*runEntry
}

// NewRunner creates a Runner. Runs derive from base, so cancelling base
// cancels every run at its next batch boundary.
func NewRunner(base context.Context, orch *Orchestrator) *Runner {
	return &Runner{orch: orch, base: base, runs: make(map[string]*runEntry)}
}

// Start launches a run for rc.List.
func (r *Runner) Start(rc RunConfig) (RunStatus, error) {
	if rc.List == "" {
		return RunStatus{}, eris.New("pipeline: list is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[rc.List]; ok && e.status.State == RunRunning {
		return e.status, eris.Wrapf(ErrRunInProgress, "pipeline: list %q", rc.List)
	}
	if r.orch.Running(rc.List) {
		return RunStatus{}, eris.Wrapf(ErrRunInProgress, "pipeline: list %q", rc.List)
	}

	ctx, cancel := context.WithCancel(r.base)
	e := &runEntry{
		status: RunStatus{List: rc.List, State: RunRunning, StartedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.runs[rc.List] = e

	go r.run(ctx, e, rc)
	return e.status, nil
}

func (r *Runner) run(ctx context.Context, e *runEntry, rc RunConfig) {
	defer close(e.done)
	defer e.cancel()

	summary, err := r.orch.Run(ctx, rc, func(p Progress) {
		r.mu.Lock()
		e.status.Progress = &p
		r.mu.Unlock()
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	finished := time.Now().UTC()
	e.status.FinishedAt = &finished
	e.status.Summary = summary
	switch {
	case err != nil:
		e.status.State = RunFailed
		e.status.Error = err.Error()
		if errors.Is(err, ErrRunInProgress) {
			e.status.Error = "another run is already processing this list"
		}
		zap.L().Error("pipeline: background run failed", zap.String("list", rc.List), zap.Error(err))
	case summary.Cancelled:
		e.status.State = RunCancelled
	default:
		e.status.State = RunCompleted
	}
}

// Status returns the latest run of list.
func (r *Runner) Status(list string) (RunStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[list]
	if !ok {
		return RunStatus{}, false
	}
	return e.status, true
}

// Cancel requests cancellation of the running run of list. It reports
// whether a running run was found.
func (r *Runner) Cancel(list string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[list]
	if !ok || e.status.State != RunRunning {
		return false
	}
	e.cancel()
	return true
}

// Wait blocks until the latest run of list finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, list string) (RunStatus, error) {
	r.mu.Lock()
	e, ok := r.runs[list]
	r.mu.Unlock()
	if !ok {
		return RunStatus{}, eris.Errorf("pipeline: no run for list %q", list)
	}
	return r.waitEntry(ctx, e)
}

// waitEntry reports the status of e itself, even if a newer run of the same
// list has replaced it in the registry.
func (r *Runner) waitEntry(ctx context.Context, e *runEntry) (RunStatus, error) {
	select {
	case <-e.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return e.status, nil
	case <-ctx.Done():
		return RunStatus{}, ctx.Err()
	}
}

// Shutdown cancels every running run and waits for them to finish, so the
// batch each one has in flight is persisted before the store is closed.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*runEntry, 0, len(r.runs))
	for _, e := range r.runs {
		e.cancel()
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "pipeline: runner shutdown")
		}
	}
	return nil
}
