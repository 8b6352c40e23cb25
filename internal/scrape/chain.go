// Package scrape reads lead websites through a chain of scrapers, each
// guarded by its own circuit breaker.
package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Chain tries scrapers in order, returning the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Nil scrapers are skipped so callers can pass
// adapters for unconfigured services without branching.
func NewChain(scrapers ...Scraper) *Chain {
	c := &Chain{}
	for _, s := range scrapers {
		if s != nil {
			c.scrapers = append(c.scrapers, s)
		}
	}
	return c
}

// Len returns the number of scrapers in the chain.
func (c *Chain) Len() int { return len(c.scrapers) }

// Scrape tries each scraper in order for a single URL.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	if len(c.scrapers) == 0 {
		return nil, eris.New("scrape: no scrapers configured")
	}

	var lastErr error
	for _, s := range c.scrapers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "scrape: context done")
		}
		page, err := s.Scrape(ctx, targetURL)
		if err == nil && page != nil {
			return page, nil
		}
		if err == nil {
			err = eris.Errorf("scrape: %s returned no page", s.Name())
		}
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
		}
		lastErr = err
	}
	return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
}

// guarded wraps a scraper call in a circuit breaker. Thin or blocked pages
// are not transient and never trip the breaker.
func guarded(ctx context.Context, cb *resilience.CircuitBreaker, fn func(ctx context.Context) (*Page, error)) (*Page, error) {
	return resilience.ExecuteVal(ctx, cb, fn)
}
