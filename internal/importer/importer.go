// Package importer loads contact spreadsheets into a lead list. Rows are
// mapped by header sniffing, filtered against an opt-out list, deduplicated
// by email and inserted in chunks.
package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

// LeadInserter persists imported leads.
type LeadInserter interface {
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
}

// Stats reports what happened to every data row of an import.
type Stats struct {
	List       string `json:"list"`
	Total      int    `json:"total"`
	Skipped    int    `json:"skipped"` // no email address
	OptedOut   int    `json:"opted_out"`
	NoWebsite  int    `json:"no_website"`
	Duplicates int    `json:"duplicates"`
	Imported   int    `json:"imported"`
}

// Importer maps spreadsheet rows to pending leads.
type Importer struct {
	store          LeadInserter
	optOut         OptOutSource
	requireWebsite bool
	chunkSize      int
}

// Option configures an Importer.
type Option func(*Importer)

// WithOptOutSource overrides the opt-out source built from config.
func WithOptOutSource(src OptOutSource) Option {
	return func(im *Importer) { im.optOut = src }
}

// New creates an Importer. An empty cfg.OptOutURL disables opt-out filtering.
func New(st LeadInserter, cfg config.ImportConfig, opts ...Option) *Importer {
	im := &Importer{
		store:          st,
		requireWebsite: cfg.RequireWebsite,
		chunkSize:      cfg.ChunkSize,
	}
	if cfg.OptOutURL != "" {
		im.optOut = NewHTTPOptOut(cfg.OptOutURL)
	}
	for _, o := range opts {
		o(im)
	}
	if im.chunkSize <= 0 {
		im.chunkSize = 100
	}
	return im
}

// ImportFile imports a .csv or .xlsx file into list.
func (im *Importer) ImportFile(ctx context.Context, path, list, charset string) (*Stats, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		t, err := readXLSX(path)
		if err != nil {
			return nil, err
		}
		return im.importTable(ctx, t, list)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return im.ImportCSV(ctx, f, list, charset)
}

// ImportCSV imports CSV data from r into list.
func (im *Importer) ImportCSV(ctx context.Context, r io.Reader, list, charset string) (*Stats, error) {
	t, err := readCSV(ctx, r, charset)
	if err != nil {
		return nil, err
	}
	return im.importTable(ctx, t, list)
}

func (im *Importer) importTable(ctx context.Context, t *table, list string) (*Stats, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, eris.New("importer: list name is required")
	}
	log := zap.L().With(zap.String("list", list))

	optedOut := im.loadOptOut(ctx)
	h := newHeaders(t.header)
	stats := &Stats{List: list, Total: len(t.rows)}
	seen := make(map[string]struct{}, len(t.rows))
	leads := make([]model.Lead, 0, len(t.rows))

	for _, row := range t.rows {
		email := h.email(row)
		if email == "" {
			stats.Skipped++
			continue
		}
		key := model.NormalizeEmail(email)
		if _, ok := optedOut[key]; ok {
			stats.OptedOut++
			continue
		}
		website := h.pick(row, websiteColumns, "linkedin")
		if website == "" && im.requireWebsite {
			stats.NoWebsite++
			continue
		}
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		leads = append(leads, model.Lead{
			FirstName:   h.pick(row, firstNameColumns),
			LastName:    h.pick(row, lastNameColumns),
			Email:       email,
			CompanyName: h.pick(row, companyColumns),
			Website:     website,
			LinkedIn:    h.pick(row, linkedInColumns),
			ListName:    list,
		})
	}

	for start := 0; start < len(leads); start += im.chunkSize {
		end := min(start+im.chunkSize, len(leads))
		n, err := im.store.InsertLeads(ctx, leads[start:end])
		stats.Imported += n
		if err != nil {
			return stats, eris.Wrapf(err, "importer: insert rows %d-%d", start+1, end)
		}
	}

	log.Info("import complete",
		zap.Int("total", stats.Total),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped),
		zap.Int("opted_out", stats.OptedOut),
		zap.Int("no_website", stats.NoWebsite),
		zap.Int("duplicates", stats.Duplicates),
	)
	return stats, nil
}

// loadOptOut never fails the import: an unreachable list means no filtering.
func (im *Importer) loadOptOut(ctx context.Context) map[string]struct{} {
	if im.optOut == nil {
		return nil
	}
	set, err := im.optOut.Fetch(ctx)
	if err != nil {
		zap.L().Warn("opt-out list unavailable, importing without it", zap.Error(err))
		return nil
	}
	return set
}
