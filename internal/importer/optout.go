package importer

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// OptOutColumn is the header of the address column in the opt-out sheet.
const OptOutColumn = "Contact Email"

// OptOutSource yields the set of normalized addresses that must never be imported.
type OptOutSource interface {
	Fetch(ctx context.Context) (map[string]struct{}, error)
}

// HTTPOptOut downloads the opt-out list as CSV, typically a published
// spreadsheet export URL.
type HTTPOptOut struct {
	URL    string
	Client *http.Client
}

// NewHTTPOptOut creates an opt-out source for url with a 30s timeout.
func NewHTTPOptOut(url string) *HTTPOptOut {
	return &HTTPOptOut{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch implements OptOutSource.
func (o *HTTPOptOut) Fetch(ctx context.Context) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "importer: create opt-out request")
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "importer: fetch opt-out list")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("importer: opt-out list returned status %d", resp.StatusCode)
	}
	return parseOptOut(resp.Body)
}

func parseOptOut(r io.Reader) (map[string]struct{}, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "importer: read opt-out header")
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), OptOutColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, eris.Errorf("importer: opt-out list has no %q column", OptOutColumn)
	}

	out := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "importer: read opt-out row")
		}
		if email := model.NormalizeEmail(cell(record, col)); email != "" {
			out[email] = struct{}{}
		}
	}
	return out, nil
}
