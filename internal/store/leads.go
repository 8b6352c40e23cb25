package store

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// leadColumns is the column list every lead query selects, prefixed by seq.
const leadColumns = `seq, id, first_name, last_name, email, company_name, website, linkedin,
	status, scrape_summary, icebreaker, error_message, list_name, claimed_at, created_at, updated_at`

// leadInsertColumns matches the row layout produced by leadRow.
var leadInsertColumns = []string{
	"seq", "id", "first_name", "last_name", "email", "company_name", "website", "linkedin",
	"status", "list_name", "created_at", "updated_at",
}

type scannable interface {
	Scan(dest ...any) error
}

// seqLead pairs a lead with its arrival sequence so RETURNING results can be
// put back in claim order.
type seqLead struct {
	seq  int64
	lead model.Lead
}

func scanLead(row scannable) (seqLead, error) {
	var sl seqLead
	var first, last, company, website, linkedin, summary, icebreaker, errMsg *string
	var status string

	l := &sl.lead
	err := row.Scan(&sl.seq, &l.ID, &first, &last, &l.Email, &company, &website, &linkedin,
		&status, &summary, &icebreaker, &errMsg, &l.ListName, &l.ClaimedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return sl, err
	}
	l.FirstName = deref(first)
	l.LastName = deref(last)
	l.CompanyName = deref(company)
	l.Website = deref(website)
	l.LinkedIn = deref(linkedin)
	l.ScrapeSummary = deref(summary)
	l.Icebreaker = deref(icebreaker)
	l.ErrorMessage = deref(errMsg)
	l.Status = model.LeadStatus(status)
	return sl, nil
}

func sortBySeq(in []seqLead) []model.Lead {
	sort.Slice(in, func(i, j int) bool { return in[i].seq < in[j].seq })
	out := make([]model.Lead, len(in))
	for i := range in {
		out[i] = in[i].lead
	}
	return out
}

// prepareLeads stamps ids, arrival sequence, status and timestamps onto a
// batch of imported leads and returns the rows to insert. Seq grows with
// wall-clock time so later imports always sort after earlier ones.
func prepareLeads(leads []model.Lead, now time.Time) ([][]any, error) {
	base := now.UnixNano()
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		l.Email = strings.TrimSpace(l.Email)
		if l.Email == "" {
			return nil, eris.Errorf("store: lead %d has no email", i)
		}
		if l.ListName == "" {
			return nil, eris.Errorf("store: lead %s has no list name", l.Email)
		}
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.Status = model.LeadStatusPending
		l.CreatedAt = now
		l.UpdatedAt = now
		rows = append(rows, []any{
			base + int64(i), l.ID, nullable(l.FirstName), nullable(l.LastName), l.Email,
			nullable(l.CompanyName), nullable(l.Website), nullable(l.LinkedIn),
			string(l.Status), l.ListName, now, now,
		})
	}
	return rows, nil
}

// checkTransition validates an update against the lead state machine before
// it reaches SQL.
func checkTransition(from []model.LeadStatus, upd model.LeadUpdate) error {
	if !upd.Status.Valid() {
		return eris.Errorf("store: invalid target status %q", upd.Status)
	}
	if len(from) == 0 {
		return eris.New("store: transition needs at least one source status")
	}
	for _, f := range from {
		if !model.CanTransition(f, upd.Status) {
			return eris.Errorf("store: %s -> %s is not a valid transition", f, upd.Status)
		}
	}
	return nil
}

// keepsClaim reports whether the lead is still owned by a run after moving to s.
func keepsClaim(s model.LeadStatus) bool {
	return s == model.LeadStatusInProgress || s == model.LeadStatusScraped
}

func statusStrings(in []model.LeadStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// summarize folds (list, status, count) rows into ListSummary values.
type summaryBuilder struct {
	order []string
	byKey map[string]*model.ListSummary
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{byKey: make(map[string]*model.ListSummary)}
}

func (b *summaryBuilder) add(list string, status model.LeadStatus, n int) {
	s, ok := b.byKey[list]
	if !ok {
		s = &model.ListSummary{Name: list, Counts: make(map[model.LeadStatus]int)}
		b.byKey[list] = s
		b.order = append(b.order, list)
	}
	s.Counts[status] += n
	s.Total += n
}

func (b *summaryBuilder) setCreated(list string, t time.Time) {
	if s, ok := b.byKey[list]; ok {
		s.CreatedAt = t
	}
}

// build returns summaries newest list first.
func (b *summaryBuilder) build() []model.ListSummary {
	out := make([]model.ListSummary, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.byKey[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func defaultSettings() *model.Settings {
	return &model.Settings{ModelID: model.DefaultModelID}
}
