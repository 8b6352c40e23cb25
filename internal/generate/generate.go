// Package generate renders prompt templates and produces icebreakers through
// the selected generation model.
package generate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Input is everything needed to write one lead's icebreaker.
type Input struct {
	Prompt  string
	ModelID string
	Lead    model.Lead
	Summary string
}

// Generator is the generation stage seen by the orchestrator.
type Generator interface {
	Generate(ctx context.Context, in Input) model.GenerationResult
}

// Service implements Generator.
type Service struct {
	cfg    config.GenerationConfig
	router *Router
	retry  resilience.RetryConfig
}

// New creates a generation Service.
func New(cfg config.GenerationConfig, router *Router, retry resilience.RetryConfig) *Service {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("generation", "icebreaker")
	}
	return &Service{cfg: cfg, router: router, retry: retry}
}

// Fallbacks returns the configured placeholder fallbacks.
func (s *Service) Fallbacks() Fallbacks {
	return Fallbacks{FirstName: s.cfg.FallbackFirstName, CompanyName: s.cfg.FallbackCompanyName}
}

// Generate writes the icebreaker for in.Lead. Provider errors come back as a
// failed result.
func (s *Service) Generate(ctx context.Context, in Input) model.GenerationResult {
	modelID := in.ModelID
	if modelID == "" {
		modelID = s.cfg.DefaultModel
	}
	if modelID == "" {
		modelID = model.DefaultModelID
	}

	m, err := model.LookupModel(modelID)
	if err != nil {
		return model.GenerationFailed(err.Error(), modelID)
	}

	completer, provider := s.router.Route(m)
	req := Completion{
		Model:     m,
		System:    SystemInstruction,
		User:      BuildUserMessage(Render(in.Prompt, in.Lead, s.Fallbacks()), in.Lead, in.Summary),
		MaxTokens: s.cfg.MaxTokens,
	}

	text, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		return completer.Complete(ctx, req)
	})
	if err != nil {
		zap.L().Warn("generate: completion failed",
			zap.String("lead_id", in.Lead.ID),
			zap.String("model", modelID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return model.GenerationFailed(err.Error(), modelID)
	}

	if strings.TrimSpace(text) == "" {
		return model.GenerationFailed("empty generation", modelID)
	}
	return model.GenerationOK(text, modelID)
}
