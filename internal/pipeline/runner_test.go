package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunner_CompletesInBackground(t *testing.T) {
	st := newMemStore("l", 7)
	r := NewRunner(context.Background(), newTestOrchestrator(st, newFakeResearcher(), nil, Options{BatchSize: 5}))

	started, err := r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	assert.Equal(t, RunRunning, started.State)

	final, err := r.Wait(waitCtx(t), "l")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, final.State)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 7, final.Summary.Generated)
	require.NotNil(t, final.Progress)
	assert.Equal(t, 7, final.Progress.Processed)
	assert.NotNil(t, final.FinishedAt)
}

func TestRunner_RejectsSecondStartAndCancels(t *testing.T) {
	st := newMemStore("l", 12)
	res := newFakeResearcher()
	res.block = make(chan struct{})
	res.entered = make(chan struct{}, 12)
	r := NewRunner(context.Background(), newTestOrchestrator(st, res, nil, Options{BatchSize: 5}))

	_, err := r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	<-res.entered

	_, err = r.Start(RunConfig{List: "l"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunInProgress))

	assert.True(t, r.Cancel("l"))
	close(res.block)

	final, err := r.Wait(waitCtx(t), "l")
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, final.State)
	assert.Equal(t, 5, final.Summary.Processed)
	assert.False(t, r.Cancel("l"))

	// A finished list can be started again.
	_, err = r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	final, err = r.Wait(waitCtx(t), "l")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, final.State)
	assert.Equal(t, 7, final.Summary.Processed)
}

func TestRunner_FailedRun(t *testing.T) {
	st := newMemStore("l", 2)
	st.claimErr = errors.New("connection refused")
	r := NewRunner(context.Background(), newTestOrchestrator(st, newFakeResearcher(), nil, Options{}))

	_, err := r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	final, err := r.Wait(waitCtx(t), "l")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, final.State)
	assert.Contains(t, final.Error, "connection refused")
}

func TestRunner_UnknownList(t *testing.T) {
	r := NewRunner(context.Background(), newTestOrchestrator(newMemStore("l", 0), newFakeResearcher(), nil, Options{}))
	_, ok := r.Status("nope")
	assert.False(t, ok)
	assert.False(t, r.Cancel("nope"))
	_, err := r.Wait(context.Background(), "nope")
	require.Error(t, err)
	_, err = r.Start(RunConfig{})
	require.Error(t, err)
}

func TestRunner_ShutdownWaitsForInFlightBatch(t *testing.T) {
	st := newMemStore("l", 12)
	res := newFakeResearcher()
	res.block = make(chan struct{})
	res.entered = make(chan struct{}, 12)
	r := NewRunner(context.Background(), newTestOrchestrator(st, res, nil, Options{BatchSize: 5}))

	_, err := r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	<-res.entered

	done := make(chan error, 1)
	go func() { done <- r.Shutdown(waitCtx(t)) }()

	select {
	case <-done:
		t.Fatal("Shutdown returned while a batch was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(res.block)
	require.NoError(t, <-done)

	assert.Len(t, st.byStatus("l", model.LeadStatusGenerated), 5)
	assert.Len(t, st.byStatus("l", model.LeadStatusPending), 7)
	assert.Empty(t, st.byStatus("l", model.LeadStatusInProgress))

	status, ok := r.Status("l")
	require.True(t, ok)
	assert.Equal(t, RunCancelled, status.State)
}

func TestRunner_ShutdownGivesUpAtDeadline(t *testing.T) {
	st := newMemStore("l", 3)
	res := newFakeResearcher()
	res.block = make(chan struct{})
	res.entered = make(chan struct{}, 3)
	r := NewRunner(context.Background(), newTestOrchestrator(st, res, nil, Options{BatchSize: 5}))

	_, err := r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	<-res.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = r.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(res.block)
	_, err = r.Wait(waitCtx(t), "l")
	require.NoError(t, err)
}

func TestRunner_WaitReportsTheAwaitedRun(t *testing.T) {
	st := newMemStore("l", 3)
	res := newFakeResearcher()
	r := NewRunner(context.Background(), newTestOrchestrator(st, res, nil, Options{BatchSize: 5}))

	_, err := r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	_, err = r.Wait(waitCtx(t), "l")
	require.NoError(t, err)

	r.mu.Lock()
	first := r.runs["l"]
	r.mu.Unlock()

	// A second run on the same list replaces the registry entry.
	st.add("l", 4)
	res.mu.Lock()
	res.block = make(chan struct{})
	res.entered = make(chan struct{}, 4)
	entered := res.entered
	res.mu.Unlock()
	_, err = r.Start(RunConfig{List: "l"})
	require.NoError(t, err)
	<-entered

	status, err := r.waitEntry(waitCtx(t), first)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, status.State)
	require.NotNil(t, status.Summary)
	assert.Equal(t, 3, status.Summary.Generated)

	res.mu.Lock()
	close(res.block)
	res.mu.Unlock()
	second, err := r.Wait(waitCtx(t), "l")
	require.NoError(t, err)
	assert.Equal(t, 4, second.Summary.Generated)
}

func TestEstimateRemaining(t *testing.T) {
	assert.Equal(t, 84*time.Second, EstimateRemaining(60*time.Second, 5, 12))
	assert.Zero(t, EstimateRemaining(time.Minute, 0, 12))
	assert.Zero(t, EstimateRemaining(time.Minute, 12, 12))
	assert.Zero(t, EstimateRemaining(time.Minute, 15, 12))
}

func TestTrackerRoundsETAUp(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTracker("l", 12, start)
	p := tr.advance(&RunSummary{Processed: 5, Generated: 4, Failed: 1}, start.Add(60*time.Second))
	assert.Equal(t, 1, p.Batch)
	assert.Equal(t, 2, p.ETAMinutes)
	assert.InDelta(t, 41.67, p.Percent, 0.01)
	assert.Equal(t, "batch 1: 5/12 (42%) generated=4 failed=1 eta=2m", p.String())

	p = tr.advance(&RunSummary{Processed: 12}, start.Add(2*time.Minute))
	assert.Zero(t, p.ETAMinutes)
	assert.Equal(t, float64(100), p.Percent)
}
