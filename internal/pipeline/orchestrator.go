package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/generate"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/research"
	"github.com/sells-group/outreach-cli/internal/store"
)

// ErrRunInProgress is returned when a list already has a run in this process.
var ErrRunInProgress = eris.New("pipeline: run already in progress for list")

// Progress modes.
const (
	ProgressSnapshot = "snapshot"
	ProgressRequery  = "requery"
)

// LeadStore is the part of store.Store the orchestrator needs.
type LeadStore interface {
	CountLeads(ctx context.Context, list string, status model.LeadStatus) (int, error)
	ClaimPending(ctx context.Context, list string, limit int) ([]model.Lead, error)
	ReleaseClaims(ctx context.Context, ids []string) (int, error)
	ReleaseStaleClaims(ctx context.Context, list string, claimedBefore time.Time) (int, error)
	TransitionLead(ctx context.Context, id string, from []model.LeadStatus, upd model.LeadUpdate) error
}

// Options tunes the orchestrator.
type Options struct {
	BatchSize    int
	ProgressMode string
	ClaimTTL     time.Duration
}

// OptionsFromConfig maps pipeline config onto Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		BatchSize:    cfg.BatchSize,
		ProgressMode: cfg.ProgressMode,
		ClaimTTL:     cfg.ClaimTTL(),
	}
}

// RunConfig selects what one run works on. Prompt and ModelID are read once
// before the run and never change during it.
type RunConfig struct {
	List    string `json:"list" validate:"required"`
	Prompt  string `json:"prompt"`
	ModelID string `json:"model_id"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	List            string        `json:"list"`
	TotalAtStart    int           `json:"total_at_start"`
	Batches         int           `json:"batches"`
	Processed       int           `json:"processed"`
	Generated       int           `json:"generated"`
	Failed          int           `json:"failed"`
	PersistFailures int           `json:"persist_failures"`
	StaleReleased   int           `json:"stale_released"`
	Released        int           `json:"released"`
	Completed       bool          `json:"completed"`
	Cancelled       bool          `json:"cancelled"`
	Duration        time.Duration `json:"duration"`
}

// Orchestrator drives pending leads of a list through research and
// generation in bounded batches.
type Orchestrator struct {
	store     LeadStore
	research  research.Researcher
	generator generate.Generator
	opts      Options

	mu      sync.Mutex
	running map[string]struct{}

	now func() time.Time
}

// NewOrchestrator creates an Orchestrator. A batch size outside 1..50 falls
// back to 5.
func NewOrchestrator(st LeadStore, r research.Researcher, g generate.Generator, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 || opts.BatchSize > 50 {
		opts.BatchSize = 5
	}
	if opts.ProgressMode == "" {
		opts.ProgressMode = ProgressSnapshot
	}
	return &Orchestrator{
		store:     st,
		research:  r,
		generator: g,
		opts:      opts,
		running:   make(map[string]struct{}),
		now:       time.Now,
	}
}

func (o *Orchestrator) lock(list string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[list]; ok {
		return false
	}
	o.running[list] = struct{}{}
	return true
}

func (o *Orchestrator) unlock(list string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, list)
}

// Running reports whether list has an active run.
func (o *Orchestrator) Running(list string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[list]
	return ok
}

// Run processes every pending lead of rc.List. ctx cancellation is honored
// only between batches: a claimed batch that has not started is released
// back to pending, a started batch always finishes. onProgress, when set,
// is called after every batch. The returned summary is non-nil even when a
// fatal store error ends the run.
func (o *Orchestrator) Run(ctx context.Context, rc RunConfig, onProgress func(Progress)) (*RunSummary, error) {
	if rc.List == "" {
		return nil, eris.New("pipeline: list is required")
	}
	if !o.lock(rc.List) {
		return nil, eris.Wrapf(ErrRunInProgress, "pipeline: list %q", rc.List)
	}
	defer o.unlock(rc.List)

	log := zap.L().With(zap.String("list", rc.List), zap.String("model", rc.ModelID))
	start := o.now()
	summary := &RunSummary{List: rc.List}
	defer func() { summary.Duration = o.now().Sub(start) }()

	// Work that must not be interrupted (batch processing, releases) runs on
	// a context that keeps values but ignores cancellation.
	bg := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		summary.Cancelled = true
		return summary, nil
	}

	if o.opts.ClaimTTL > 0 {
		n, err := o.store.ReleaseStaleClaims(bg, rc.List, start.Add(-o.opts.ClaimTTL))
		if err != nil {
			return summary, eris.Wrap(err, "pipeline: release stale claims")
		}
		if n > 0 {
			log.Info("pipeline: released stale claims", zap.Int("count", n))
		}
		summary.StaleReleased = n
	}

	total, err := o.store.CountLeads(bg, rc.List, model.LeadStatusPending)
	if err != nil {
		return summary, eris.Wrap(err, "pipeline: count pending")
	}
	summary.TotalAtStart = total
	tracker := newTracker(rc.List, total, start)
	log.Info("pipeline: run starting", zap.Int("pending", total), zap.Int("batch_size", o.opts.BatchSize))

	for {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		batch, err := o.store.ClaimPending(ctx, rc.List, o.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			log.Error("pipeline: claim failed, halting run", zap.Error(err))
			return summary, eris.Wrap(err, "pipeline: claim pending")
		}
		if len(batch) == 0 {
			summary.Completed = true
			break
		}

		if ctx.Err() != nil {
			n, relErr := o.store.ReleaseClaims(bg, leadIDs(batch))
			if relErr != nil {
				log.Error("pipeline: release claimed batch", zap.Error(relErr))
			}
			summary.Released += n
			summary.Cancelled = true
			break
		}

		summary.Batches++
		outcomes := o.processBatch(bg, rc, batch)
		for _, oc := range outcomes {
			switch oc {
			case outcomeGenerated:
				summary.Generated++
			case outcomeFailed:
				summary.Failed++
			case outcomeLost:
				summary.PersistFailures++
			}
		}
		summary.Processed += len(batch)

		if o.opts.ProgressMode == ProgressRequery {
			remaining, cntErr := o.store.CountLeads(bg, rc.List, model.LeadStatusPending)
			if cntErr != nil {
				log.Warn("pipeline: requery pending count", zap.Error(cntErr))
			} else {
				tracker.setTotal(summary.Processed + remaining)
			}
		}

		p := tracker.advance(summary, o.now())
		log.Info("pipeline: batch complete",
			zap.Int("batch", p.Batch),
			zap.Int("processed", p.Processed),
			zap.Int("total", p.Total),
			zap.Int("eta_minutes", p.ETAMinutes),
		)
		if onProgress != nil {
			onProgress(p)
		}
	}

	log.Info("pipeline: run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("generated", summary.Generated),
		zap.Int("failed", summary.Failed),
		zap.Bool("completed", summary.Completed),
		zap.Bool("cancelled", summary.Cancelled),
	)
	return summary, nil
}

type outcome int

const (
	outcomeGenerated outcome = iota
	outcomeFailed
	outcomeLost // terminal status could not be written; the claim expires later
)

// processBatch runs every lead of batch concurrently and waits for all.
func (o *Orchestrator) processBatch(ctx context.Context, rc RunConfig, batch []model.Lead) []outcome {
	outcomes := make([]outcome, len(batch))
	var g errgroup.Group
	for i := range batch {
		g.Go(func() error {
			outcomes[i] = o.processLead(ctx, rc, batch[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

var claimedStatuses = []model.LeadStatus{model.LeadStatusInProgress, model.LeadStatusScraped}

// processLead runs research then generation for one claimed lead and writes
// its terminal status.
func (o *Orchestrator) processLead(ctx context.Context, rc RunConfig, lead model.Lead) outcome {
	log := zap.L().With(zap.String("list", rc.List), zap.String("lead_id", lead.ID), zap.String("email", lead.Email))

	res := o.research.Research(ctx, lead.Website)
	if !res.OK {
		log.Warn("pipeline: research failed", zap.String("reason", res.Reason))
		return o.finish(ctx, log, lead.ID, model.Failed("", "research: "+res.Reason), outcomeFailed)
	}

	if err := o.store.TransitionLead(ctx, lead.ID, []model.LeadStatus{model.LeadStatusInProgress}, model.ResearchDone(res.Summary)); err != nil {
		log.Warn("pipeline: persist research summary", zap.Error(err))
	}

	lead.ScrapeSummary = res.Summary
	gen := o.generator.Generate(ctx, generate.Input{
		Prompt:  rc.Prompt,
		ModelID: rc.ModelID,
		Lead:    lead,
		Summary: res.Summary,
	})
	if !gen.OK {
		log.Warn("pipeline: generation failed", zap.String("reason", gen.Reason))
		return o.finish(ctx, log, lead.ID, model.Failed(res.Summary, "generation: "+gen.Reason), outcomeFailed)
	}
	return o.finish(ctx, log, lead.ID, model.Generated(res.Summary, gen.Text), outcomeGenerated)
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, id string, upd model.LeadUpdate, oc outcome) outcome {
	if err := o.store.TransitionLead(ctx, id, claimedStatuses, upd); err != nil {
		log.Error("pipeline: persist lead result",
			zap.String("status", string(upd.Status)),
			zap.Error(err),
		)
		return outcomeLost
	}
	return oc
}

func leadIDs(leads []model.Lead) []string {
	ids := make([]string, len(leads))
	for i, l := range leads {
		ids[i] = l.ID
	}
	return ids
}

var _ LeadStore = store.Store(nil)
