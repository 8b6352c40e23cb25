package generate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/openrouter"
)

// Completion is one provider-neutral chat request.
type Completion struct {
	Model     model.GenerationModel
	System    string
	User      string
	MaxTokens int
}

// Completer sends a completion to one provider and returns the text.
type Completer interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

type openRouterCompleter struct {
	client  openrouter.Client
	breaker *resilience.CircuitBreaker
}

// NewOpenRouterCompleter serves every catalog model through OpenRouter.
func NewOpenRouterCompleter(client openrouter.Client) Completer {
	return &openRouterCompleter{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "openrouter-generate",
			ResetTimeout: 30 * time.Second,
		}),
	}
}

func (o *openRouterCompleter) Complete(ctx context.Context, c Completion) (string, error) {
	req := openrouter.ChatCompletionRequest{
		Model:    c.Model.ID,
		Messages: []openrouter.Message{openrouter.System(c.System), openrouter.User(c.User)},
	}
	if c.MaxTokens > 0 {
		req.MaxTokens = &c.MaxTokens
	}
	resp, err := resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) (*openrouter.ChatCompletionResponse, error) {
		return o.client.ChatCompletion(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}

type anthropicCompleter struct {
	client  anthropic.Client
	breaker *resilience.CircuitBreaker
}

// NewAnthropicCompleter serves catalog models that name a direct Anthropic model.
func NewAnthropicCompleter(client anthropic.Client) Completer {
	return &anthropicCompleter{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "anthropic-generate",
			ResetTimeout: 30 * time.Second,
		}),
	}
}

func (a *anthropicCompleter) Complete(ctx context.Context, c Completion) (string, error) {
	if c.Model.DirectModel == "" {
		return "", eris.Errorf("generate: model %s has no direct anthropic name", c.Model.ID)
	}
	maxTokens := int64(c.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 512
	}
	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.Model.DirectModel,
			MaxTokens: maxTokens,
			System:    c.System,
			Messages:  []anthropic.Message{{Role: "user", Content: c.User}},
		})
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(c.Model.DirectModel, "generate")
	return resp.Text(), nil
}

// Router picks the completer for a catalog model: the direct provider when
// one is configured for it, OpenRouter otherwise.
type Router struct {
	openRouter Completer
	direct     map[model.Provider]Completer
}

// NewRouter creates a Router with OpenRouter as the default path.
func NewRouter(openRouter Completer) *Router {
	return &Router{openRouter: openRouter, direct: map[model.Provider]Completer{}}
}

// WithDirect registers a completer for a direct provider. Nil is ignored.
func (r *Router) WithDirect(p model.Provider, c Completer) *Router {
	if c != nil {
		r.direct[p] = c
	}
	return r
}

// Route returns the completer and a short name for logging.
func (r *Router) Route(m model.GenerationModel) (Completer, string) {
	if m.DirectProvider != "" {
		if c, ok := r.direct[m.DirectProvider]; ok {
			return c, string(m.DirectProvider)
		}
	}
	return r.openRouter, string(model.ProviderOpenRouter)
}
