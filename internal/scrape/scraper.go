package scrape

import "context"

// Page is the readable content of one website.
type Page struct {
	URL      string
	Title    string
	Markdown string
	Source   string // "jina", "firecrawl", "local_http"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
	Name() string
}
