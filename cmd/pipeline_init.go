package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/generate"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/research"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/firecrawl"
	"github.com/sells-group/outreach-cli/pkg/jina"
	"github.com/sells-group/outreach-cli/pkg/lemlist"
	"github.com/sells-group/outreach-cli/pkg/openrouter"
)

// pipelineEnv holds the store and the services built on top of it for the
// generate, export and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator // nil unless the mode generates
	Exporter     *pipeline.Exporter     // nil unless the mode exports
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store and wires the API clients mode needs.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{Store: st}
	retry := resilience.FromConfig(cfg.Pipeline.Retry)

	if mode == "generate" || mode == "serve" {
		env.Orchestrator = buildOrchestrator(st, retry)
	}
	if mode == "export" || mode == "serve" {
		lem := lemlist.NewClient(cfg.Lemlist.Key,
			lemlist.WithBaseURL(cfg.Lemlist.BaseURL),
			lemlist.WithRateLimit(cfg.Lemlist.RPS),
		)
		env.Exporter = pipeline.NewExporter(lem, st, cfg.Pipeline.ExportChunkSize, retry)
	}
	return env, nil
}

func buildOrchestrator(st store.Store, retry resilience.RetryConfig) *pipeline.Orchestrator {
	orClient := openrouter.NewClient(cfg.OpenRouter.Key,
		openrouter.WithBaseURL(cfg.OpenRouter.BaseURL),
		openrouter.WithAppInfo(cfg.OpenRouter.Referer, cfg.OpenRouter.Title),
		openrouter.WithRateLimit(cfg.OpenRouter.RPS),
	)

	researchOpts := []research.Option{research.WithRetry(retry), research.WithCache(st)}
	if cfg.Research.Provider == "reader" {
		researchOpts = append(researchOpts, research.WithReader(buildReader()))
	}
	researcher := research.New(cfg.Research, orClient, researchOpts...)

	router := generate.NewRouter(generate.NewOpenRouterCompleter(orClient))
	if cfg.Anthropic.Key != "" {
		router.WithDirect(model.ProviderAnthropic, generate.NewAnthropicCompleter(anthropic.NewClient(cfg.Anthropic.Key)))
		zap.L().Info("anthropic direct generation enabled")
	}
	gen := generate.New(cfg.Generation, router, retry)

	return pipeline.NewOrchestrator(st, researcher, gen, pipeline.OptionsFromConfig(cfg.Pipeline))
}

// buildReader chains Jina, then Firecrawl when configured, then a plain HTTP fetch.
func buildReader() *scrape.Chain {
	scrapers := []scrape.Scraper{
		scrape.NewJinaAdapter(jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithRemoveSelectors("nav", "footer", "script", "style"),
			jina.WithPageTimeout(20*time.Second),
		)),
	}
	if cfg.Firecrawl.Key != "" {
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(
			firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL)),
		))
	}
	scrapers = append(scrapers, scrape.NewLocalScraper())
	return scrape.NewChain(scrapers...)
}

// settingsReader is the slice of the store resolveRunConfig needs.
type settingsReader interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
}

// resolveRunConfig fills prompt and model from the saved settings when the
// caller leaves them empty. Settings are read once, before the run.
func resolveRunConfig(ctx context.Context, st settingsReader, list, prompt, modelID string) (pipeline.RunConfig, error) {
	rc := pipeline.RunConfig{List: strings.TrimSpace(list), Prompt: prompt, ModelID: modelID}
	if rc.List == "" {
		return rc, eris.New("list is required")
	}

	if rc.Prompt == "" || rc.ModelID == "" {
		s, err := st.GetSettings(ctx)
		if err != nil {
			return rc, eris.Wrap(err, "load settings")
		}
		if rc.Prompt == "" {
			rc.Prompt = s.Prompt
		}
		if rc.ModelID == "" {
			rc.ModelID = s.ModelID
		}
	}

	if strings.TrimSpace(rc.Prompt) == "" {
		return rc, eris.New("no prompt configured: pass --prompt or run 'settings set --prompt'")
	}
	if rc.ModelID != "" {
		if _, err := model.LookupModel(rc.ModelID); err != nil {
			return rc, err
		}
	}
	return rc, nil
}
