// Package research produces the per-lead website summary that generation
// builds on. Failures are returned as data, never as errors.
package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/pkg/openrouter"
)

// Provider names.
const (
	ProviderSonar  = "sonar"
	ProviderReader = "reader"
)

const sonarPrompt = "Analyze this website and briefly summarize what the company does, " +
	"what its main products are, and name 1-2 recent news items or distinctive details " +
	"that could be used for a cold email icebreaker: %s"

const summarizeSystem = "You summarize company websites for sales research. " +
	"Be factual and concise. Do not invent details that are not in the content."

const summarizeUser = "Summarize what the company does, what its main products are, and " +
	"name 1-2 recent news items or distinctive details that could be used for a cold email " +
	"icebreaker.\n\nWebsite: %s\n\nContent:\n%s"

// Researcher turns a lead website into a research result.
type Researcher interface {
	Research(ctx context.Context, websiteURL string) model.ResearchResult
}

// Cache stores successful summaries keyed by CacheKey.
type Cache interface {
	GetCachedResearch(ctx context.Context, urlHash string) (string, bool, error)
	SetCachedResearch(ctx context.Context, urlHash, url, summary string, ttl time.Duration) error
}

// Reader fetches readable page content; *scrape.Chain satisfies it.
type Reader interface {
	Scrape(ctx context.Context, url string) (*scrape.Page, error)
}

// Service implements Researcher over OpenRouter.
type Service struct {
	cfg     config.ResearchConfig
	llm     openrouter.Client
	reader  Reader
	cache   Cache
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// Option configures a Service.
type Option func(*Service)

// WithReader sets the page reader used by the reader provider.
func WithReader(r Reader) Option {
	return func(s *Service) { s.reader = r }
}

// WithCache enables the summary cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRetry overrides the retry policy for chat completions.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = rc }
}

// New creates a research Service.
func New(cfg config.ResearchConfig, llm openrouter.Client, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		llm:   llm,
		retry: resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "openrouter-research",
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("openrouter", "research")
	}
	return s
}

// Research summarizes websiteURL. An empty URL yields the configured
// placeholder summary without any external call.
func (s *Service) Research(ctx context.Context, websiteURL string) model.ResearchResult {
	if strings.TrimSpace(websiteURL) == "" {
		return model.ResearchOK(s.cfg.EmptyWebsiteSummary, "placeholder")
	}

	target := NormalizeURL(websiteURL)
	log := zap.L().With(zap.String("url", target), zap.String("provider", s.cfg.Provider))
	key := CacheKey(target)

	if s.cacheEnabled() {
		summary, ok, err := s.cache.GetCachedResearch(ctx, key)
		if err != nil {
			log.Warn("research: cache lookup failed", zap.Error(err))
		} else if ok {
			return model.ResearchOK(summary, "cache")
		}
	}

	var (
		raw string
		err error
	)
	switch s.cfg.Provider {
	case ProviderReader:
		raw, err = s.viaReader(ctx, target)
	default:
		raw, err = s.viaSonar(ctx, target)
	}
	if err != nil {
		log.Warn("research: failed", zap.Error(err))
		return model.ResearchFailed(err.Error())
	}

	summary := StripReasoning(raw)
	if summary == "" {
		return model.ResearchFailed("empty research summary")
	}

	if s.cacheEnabled() {
		if err := s.cache.SetCachedResearch(ctx, key, target, summary, s.cfg.CacheTTL()); err != nil {
			log.Warn("research: cache write failed", zap.Error(err))
		}
	}
	return model.ResearchOK(summary, s.providerName())
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cfg.CacheTTL() > 0
}

func (s *Service) providerName() string {
	if s.cfg.Provider == ProviderReader {
		return ProviderReader
	}
	return ProviderSonar
}

func (s *Service) viaSonar(ctx context.Context, target string) (string, error) {
	return s.complete(ctx, openrouter.ChatCompletionRequest{
		Model:    s.cfg.Model,
		Messages: []openrouter.Message{openrouter.User(fmt.Sprintf(sonarPrompt, target))},
	})
}

func (s *Service) viaReader(ctx context.Context, target string) (string, error) {
	if s.reader == nil {
		return "", eris.New("research: reader provider has no scraper configured")
	}
	page, err := s.reader.Scrape(ctx, target)
	if err != nil {
		return "", eris.Wrap(err, "research: read website")
	}
	content := truncate(strings.TrimSpace(page.Markdown), s.cfg.MaxContentChars)
	if content == "" {
		return "", eris.Errorf("research: %s returned no content", page.Source)
	}
	return s.complete(ctx, openrouter.ChatCompletionRequest{
		Model: s.cfg.SummaryModel,
		Messages: []openrouter.Message{
			openrouter.System(summarizeSystem),
			openrouter.User(fmt.Sprintf(summarizeUser, target, content)),
		},
	})
}

func (s *Service) complete(ctx context.Context, req openrouter.ChatCompletionRequest) (string, error) {
	resp, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*openrouter.ChatCompletionResponse, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*openrouter.ChatCompletionResponse, error) {
			return s.llm.ChatCompletion(ctx, req)
		})
	})
	if err != nil {
		return "", eris.Wrap(err, "research: chat completion")
	}
	return resp.Content(), nil
}

// NormalizeURL trims u and prepends https:// when it has no http(s) scheme.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return u
	}
	return "https://" + strings.TrimPrefix(u, "//")
}

// CacheKey hashes a normalized URL so that case and a trailing slash do not
// split cache entries.
func CacheKey(normalized string) string {
	key := strings.TrimRight(strings.ToLower(normalized), "/")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var thinkRe = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripReasoning removes <think> blocks that reasoning models prepend to
// their answer.
func StripReasoning(s string) string {
	s = thinkRe.ReplaceAllString(s, "")
	if i := strings.LastIndex(strings.ToLower(s), "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// truncate cuts s to at most limit bytes on a rune boundary. limit <= 0
// leaves s untouched.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
