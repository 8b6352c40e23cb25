package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// LocalScraper fetches HTML directly and reduces it to plain text. It is the
// last link of the chain and needs no API key.
type LocalScraper struct {
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewLocalScraper creates a LocalScraper with short timeouts.
func NewLocalScraper() *LocalScraper {
	return &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "local_http",
			FailureThreshold: 10,
			ResetTimeout:     30 * time.Second,
		}),
	}
}

func (l *LocalScraper) Name() string { return "local_http" }

// Scrape fetches a URL, rejects blocked pages and strips HTML.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	return guarded(ctx, l.breaker, func(ctx context.Context) (*Page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "local_http: create request")
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OutreachBot/1.0)")

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "local_http: fetch")
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
		if err != nil {
			return nil, eris.Wrap(err, "local_http: read body")
		}

		if isChallenge(resp, body) {
			return nil, eris.Errorf("local_http: blocked by anti-bot page (status %d)", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
		}

		text := stripHTML(string(body))
		if len(text) < minContentChars {
			return nil, eris.New("local_http: empty page")
		}
		return &Page{
			URL:      targetURL,
			Title:    extractTitle(body),
			Markdown: text,
			Source:   "local_http",
		}, nil
	})
}

// isChallenge detects Cloudflare interstitials, captchas and JS-only shells.
func isChallenge(resp *http.Response, body []byte) bool {
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true
		}
	}
	lower := strings.ToLower(string(body))
	if looksBlocked(lower) {
		return true
	}
	return len(body) < 2000 && strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript")
}

var (
	titleRe    = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	dropRe     = regexp.MustCompile(`(?is)<(script|style|nav|footer|noscript)[^>]*>.*?</(script|style|nav|footer|noscript)>`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	spaceRe    = regexp.MustCompile(`[ \t]+`)
	newlinesRe = regexp.MustCompile(`\n\s*\n\s*(\n\s*)+`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// stripHTML drops non-content blocks and tags, decodes common entities and
// collapses whitespace.
func stripHTML(html string) string {
	html = dropRe.ReplaceAllString(html, "")
	html = titleRe.ReplaceAllString(html, "")
	html = tagRe.ReplaceAllString(html, " ")
	html = entityReplacer.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = newlinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
