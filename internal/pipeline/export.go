package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/lemlist"
)

// CampaignRef names the destination campaign. A non-empty ID is used as is;
// otherwise a campaign called Name is created first.
type CampaignRef struct {
	ID   string `json:"campaign_id"`
	Name string `json:"campaign_name"`
}

// ExportStore is the part of store.Store the exporter needs.
type ExportStore interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	TransitionLead(ctx context.Context, id string, from []model.LeadStatus, upd model.LeadUpdate) error
}

// Exporter pushes generated leads to lemlist in fixed-size concurrent chunks.
type Exporter struct {
	client    lemlist.Client
	store     ExportStore
	chunkSize int
	retry     resilience.RetryConfig
}

// NewExporter creates an Exporter. A chunk size outside 1..50 falls back to 5.
func NewExporter(client lemlist.Client, st ExportStore, chunkSize int, retry resilience.RetryConfig) *Exporter {
	if chunkSize <= 0 || chunkSize > 50 {
		chunkSize = 5
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("lemlist", "export")
	}
	return &Exporter{client: client, store: st, chunkSize: chunkSize, retry: retry}
}

// ExportList exports every generated lead of list.
func (e *Exporter) ExportList(ctx context.Context, list string, ref CampaignRef) (*model.ExportReport, error) {
	leads, err := e.store.ListLeads(ctx, store.LeadFilter{List: list, Status: model.LeadStatusGenerated})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load generated leads of %q", list)
	}
	if ref.ID == "" && ref.Name == "" {
		ref.Name = list
	}
	return e.Export(ctx, leads, ref)
}

// Export pushes leads to the campaign. Only campaign creation failure is
// fatal; per-lead failures are counted and their distinct messages kept in
// first-seen order. Cancellation stops before the next chunk and returns
// the partial report together with the context error.
func (e *Exporter) Export(ctx context.Context, leads []model.Lead, ref CampaignRef) (*model.ExportReport, error) {
	campaignID := ref.ID
	if campaignID == "" {
		if ref.Name == "" {
			return nil, eris.New("pipeline: campaign id or name is required")
		}
		id, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (string, error) {
			return e.client.CreateCampaign(ctx, ref.Name)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: create campaign %q", ref.Name)
		}
		campaignID = id
		zap.L().Info("pipeline: created campaign", zap.String("campaign_id", id), zap.String("name", ref.Name))
	}

	report := &model.ExportReport{CampaignID: campaignID, Errors: []string{}}
	seen := make(map[string]bool)
	bg := context.WithoutCancel(ctx)

	for start := 0; start < len(leads); start += e.chunkSize {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "pipeline: export cancelled")
		}
		chunk := leads[start:min(start+e.chunkSize, len(leads))]

		msgs := make([]string, len(chunk))
		var g errgroup.Group
		for i := range chunk {
			g.Go(func() error {
				msgs[i] = e.exportLead(bg, campaignID, chunk[i])
				return nil
			})
		}
		_ = g.Wait()

		report.Total += len(chunk)
		for _, msg := range msgs {
			if msg == "" {
				report.Success++
				continue
			}
			report.Failed++
			if !seen[msg] {
				seen[msg] = true
				report.Errors = append(report.Errors, msg)
			}
		}
	}

	zap.L().Info("pipeline: export finished",
		zap.String("campaign_id", campaignID),
		zap.Int("total", report.Total),
		zap.Int("success", report.Success),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// exportLead creates the lead remotely, falling back to an update when it
// already exists. It returns "" on success or the failure message.
func (e *Exporter) exportLead(ctx context.Context, campaignID string, lead model.Lead) string {
	log := zap.L().With(zap.String("lead_id", lead.ID), zap.String("email", lead.Email))
	payload := payloadFor(lead)

	err := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.client.CreateLead(ctx, campaignID, payload)
	})
	if err != nil {
		if !lemlist.IsConflict(err) {
			log.Warn("pipeline: export lead failed", zap.Error(err))
			return lemlist.Message(err)
		}
		log.Debug("pipeline: lead exists in campaign, updating")
		err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
			return e.client.UpdateLead(ctx, campaignID, lead.Email, payload)
		})
		if err != nil {
			log.Warn("pipeline: update existing lead failed", zap.Error(err))
			return "update failed: " + lemlist.Message(err)
		}
	}

	err = e.store.TransitionLead(ctx, lead.ID, []model.LeadStatus{model.LeadStatusGenerated}, model.Exported())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTransitionRejected):
		log.Debug("pipeline: lead already past generated", zap.String("status", string(lead.Status)))
	default:
		log.Warn("pipeline: mark exported failed; remote lead is in place", zap.Error(err))
	}
	return ""
}

func payloadFor(l model.Lead) lemlist.LeadPayload {
	return lemlist.LeadPayload{
		Email:         l.Email,
		FirstName:     l.FirstName,
		LastName:      l.LastName,
		CompanyName:   l.CompanyName,
		Icebreaker:    l.Icebreaker,
		LinkedinURL:   l.LinkedIn,
		CompanyDomain: l.Website,
	}
}
