// Package jina reads web pages as markdown through the Jina Reader API.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// maxBodyBytes caps how much of a reader response is buffered. Home pages
// larger than this are truncated by the server-side token budget anyway.
const maxBodyBytes = 4 << 20

// Client reads a single page.
type Client interface {
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
}

type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

type ReadUsage struct {
	Tokens int `json:"tokens"`
}

type Option func(*httpClient)

// WithBaseURL overrides https://r.jina.ai.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRemoveSelectors asks the reader to drop page chrome (cookie banners,
// navigation) before converting to markdown.
func WithRemoveSelectors(selectors ...string) Option {
	return func(c *httpClient) {
		c.removeSelectors = strings.Join(selectors, ", ")
	}
}

// WithPageTimeout bounds how long the reader waits for the target page to load.
func WithPageTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.pageTimeout = d
	}
}

type httpClient struct {
	apiKey          string
	baseURL         string
	http            *http.Client
	removeSelectors string
	pageTimeout     time.Duration
}

// NewClient creates a reader client. Transient statuses come back as
// resilience.TransientError; retrying is the caller's job.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://r.jina.ai",
		http:    &http.Client{Timeout: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	if strings.TrimSpace(targetURL) == "" {
		return nil, eris.New("jina: empty target url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	if c.removeSelectors != "" {
		req.Header.Set("X-Remove-Selector", c.removeSelectors)
	}
	if c.pageTimeout > 0 {
		req.Header.Set("X-Timeout", strconv.Itoa(int(c.pageTimeout.Seconds())))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "jina: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.ForStatus(
			eris.Errorf("jina: unexpected status %d: %s", resp.StatusCode, snippet(body)),
			resp.StatusCode,
		)
	}

	var result ReadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	return &result, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
