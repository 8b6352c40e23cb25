// Package lemlist provides a client for the lemlist campaign API.
package lemlist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.lemlist.com/api"

// Client defines the lemlist operations used by export.
type Client interface {
	CreateCampaign(ctx context.Context, name string) (string, error)
	CreateLead(ctx context.Context, campaignID string, lead LeadPayload) error
	UpdateLead(ctx context.Context, campaignID, email string, lead LeadPayload) error
}

// LeadPayload is the lead body accepted by the campaign lead endpoints.
// Icebreaker is sent as a top-level custom variable.
type LeadPayload struct {
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	CompanyName   string `json:"companyName,omitempty"`
	Icebreaker    string `json:"icebreaker"`
	LinkedinURL   string `json:"linkedinUrl,omitempty"`
	CompanyDomain string `json:"companyDomain,omitempty"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lemlist: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err means the lead already exists in the
// campaign: a 409, or any error whose message mentions "exist".
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == http.StatusConflict {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "exist")
}

// Message returns the remote message carried by err, or err.Error().
func Message(err error) string {
	if apiErr, ok := asAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a lemlist client. lemlist uses basic auth with an empty
// user and the API key as password.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateCampaign(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"_id"`
	}
	if err := c.send(ctx, http.MethodPost, "/campaigns", map[string]string{"name": name}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", eris.New("lemlist: create campaign returned no id")
	}
	return out.ID, nil
}

func (c *httpClient) CreateLead(ctx context.Context, campaignID string, lead LeadPayload) error {
	path := fmt.Sprintf("/campaigns/%s/leads", url.PathEscape(campaignID))
	return c.send(ctx, http.MethodPost, path, lead, nil)
}

func (c *httpClient) UpdateLead(ctx context.Context, campaignID, email string, lead LeadPayload) error {
	path := fmt.Sprintf("/campaigns/%s/leads/%s", url.PathEscape(campaignID), url.PathEscape(email))
	lead.Email = ""
	return c.send(ctx, http.MethodPatch, path, lead, nil)
}

// send returns *APIError (possibly wrapped in a TransientError) on non-2xx.
func (c *httpClient) send(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "lemlist: rate limit wait")
		}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "lemlist: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "lemlist: create request")
	}
	req.SetBasicAuth("", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "lemlist: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "lemlist: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.ForStatus(&APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}, resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "lemlist: decode response")
	}
	return nil
}

// errorMessage pulls "message" (or "error") out of a JSON body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}
