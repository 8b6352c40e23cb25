package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Scraper.
type FirecrawlAdapter struct {
	client  firecrawl.Client
	breaker *resilience.CircuitBreaker
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "firecrawl",
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}),
	}
}

func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Scrape fetches the main content of a single URL.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	return guarded(ctx, f.breaker, func(ctx context.Context) (*Page, error) {
		resp, err := f.client.Scrape(ctx, firecrawl.HomePage(targetURL))
		if err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(resp.Data.Markdown)) < minContentChars {
			return nil, eris.Errorf("firecrawl: empty page for %s", targetURL)
		}
		return &Page{
			URL:      firstNonEmpty(resp.Data.Metadata.SourceURL, resp.Data.URL, targetURL),
			Title:    resp.Data.Metadata.Title,
			Markdown: resp.Data.Markdown,
			Source:   "firecrawl",
		}, nil
	})
}
