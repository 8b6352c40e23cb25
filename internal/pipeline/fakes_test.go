package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/outreach-cli/internal/generate"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/lemlist"
)

// memStore is an in-memory LeadStore and ExportStore with the same
// transition rules as the real stores.
type memStore struct {
	mu    sync.Mutex
	leads []*model.Lead

	claimCalls    int
	claimErr      error
	onClaim       func()
	transitionErr func(id string, upd model.LeadUpdate) error
}

func newMemStore(list string, n int) *memStore {
	s := &memStore{}
	s.add(list, n)
	return s
}

func (s *memStore) add(list string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := len(s.leads)
	for i := range n {
		id := fmt.Sprintf("%s-%02d", list, base+i)
		s.leads = append(s.leads, &model.Lead{
			ID:          id,
			Email:       id + "@example.com",
			FirstName:   "Lead",
			CompanyName: "Co " + id,
			Website:     id + ".example.com",
			ListName:    list,
			Status:      model.LeadStatusPending,
		})
	}
}

func (s *memStore) get(id string) model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID == id {
			return *l
		}
	}
	return model.Lead{}
}

func (s *memStore) byStatus(list string, st model.LeadStatus) []model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if l.ListName == list && l.Status == st {
			out = append(out, *l)
		}
	}
	return out
}

func (s *memStore) CountLeads(_ context.Context, list string, status model.LeadStatus) (int, error) {
	return len(s.byStatus(list, status)), nil
}

func (s *memStore) ClaimPending(ctx context.Context, list string, limit int) ([]model.Lead, error) {
	s.mu.Lock()
	s.claimCalls++
	if s.claimErr != nil {
		s.mu.Unlock()
		return nil, s.claimErr
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	var out []model.Lead
	for _, l := range s.leads {
		if len(out) == limit {
			break
		}
		if l.ListName == list && l.Status == model.LeadStatusPending {
			l.Status = model.LeadStatusInProgress
			l.ClaimedAt = &now
			out = append(out, *l)
		}
	}
	hook := s.onClaim
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) ReleaseClaims(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.leads {
		if slices.Contains(ids, l.ID) && (l.Status == model.LeadStatusInProgress || l.Status == model.LeadStatusScraped) {
			l.Status = model.LeadStatusPending
			l.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) ReleaseStaleClaims(_ context.Context, list string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.leads {
		if l.ListName != list || l.ClaimedAt == nil || !l.ClaimedAt.Before(before) {
			continue
		}
		if l.Status == model.LeadStatusInProgress || l.Status == model.LeadStatusScraped {
			l.Status = model.LeadStatusPending
			l.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) TransitionLead(_ context.Context, id string, from []model.LeadStatus, upd model.LeadUpdate) error {
	if s.transitionErr != nil {
		if err := s.transitionErr(id, upd); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID != id {
			continue
		}
		if !slices.Contains(from, l.Status) || !model.CanTransition(l.Status, upd.Status) {
			return store.ErrTransitionRejected
		}
		l.Status = upd.Status
		if upd.ScrapeSummary != nil {
			l.ScrapeSummary = *upd.ScrapeSummary
		}
		if upd.Icebreaker != nil {
			l.Icebreaker = *upd.Icebreaker
		}
		if upd.ClearsIcebreaker() {
			l.Icebreaker = ""
		}
		l.ErrorMessage = ""
		if upd.ErrorMessage != nil {
			l.ErrorMessage = *upd.ErrorMessage
		}
		if upd.Status != model.LeadStatusInProgress && upd.Status != model.LeadStatusScraped {
			l.ClaimedAt = nil
		}
		return nil
	}
	return store.ErrNotFound
}

func (s *memStore) ListLeads(_ context.Context, f store.LeadFilter) ([]model.Lead, error) {
	return s.byStatus(f.List, f.Status), nil
}

// fakeResearcher succeeds unless the website is listed in fail.
type fakeResearcher struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]string
	block   chan struct{}
	entered chan struct{}
}

func newFakeResearcher() *fakeResearcher {
	return &fakeResearcher{calls: map[string]int{}, fail: map[string]string{}}
}

func (f *fakeResearcher) Research(_ context.Context, url string) model.ResearchResult {
	f.mu.Lock()
	f.calls[url]++
	reason, failing := f.fail[url]
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if failing {
		return model.ResearchFailed(reason)
	}
	return model.ResearchOK("summary of "+url, "sonar")
}

func (f *fakeResearcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeGenerator fails for leads whose id is listed in fail.
type fakeGenerator struct {
	mu     sync.Mutex
	inputs []generate.Input
	fail   map[string]bool
}

func (f *fakeGenerator) Generate(_ context.Context, in generate.Input) model.GenerationResult {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	fail := f.fail[in.Lead.ID]
	f.mu.Unlock()
	if fail {
		return model.GenerationFailed("model overloaded", in.ModelID)
	}
	return model.GenerationOK("icebreaker for "+in.Lead.ID, in.ModelID)
}

// fakeLemlist keeps remote leads per campaign keyed by email.
type fakeLemlist struct {
	mu          sync.Mutex
	campaigns   []string
	remote      map[string]map[string]lemlist.LeadPayload
	createErr   error
	failCreate  map[string]error // by email
	failUpdate  map[string]error
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	creates     int
	updates     int
}

func newFakeLemlist() *fakeLemlist {
	return &fakeLemlist{
		remote:     map[string]map[string]lemlist.LeadPayload{},
		failCreate: map[string]error{},
		failUpdate: map[string]error{},
	}
}

func (f *fakeLemlist) CreateCampaign(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "cam_" + strings.ReplaceAll(name, " ", "_")
	f.campaigns = append(f.campaigns, id)
	return id, nil
}

func (f *fakeLemlist) track() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeLemlist) CreateLead(_ context.Context, campaignID string, lead lemlist.LeadPayload) error {
	defer f.track()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := f.failCreate[lead.Email]; err != nil {
		return err
	}
	if f.remote[campaignID] == nil {
		f.remote[campaignID] = map[string]lemlist.LeadPayload{}
	}
	if _, ok := f.remote[campaignID][lead.Email]; ok {
		return &lemlist.APIError{StatusCode: http.StatusConflict, Message: "Lead already exists"}
	}
	f.remote[campaignID][lead.Email] = lead
	return nil
}

func (f *fakeLemlist) UpdateLead(_ context.Context, campaignID, email string, lead lemlist.LeadPayload) error {
	defer f.track()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if err := f.failUpdate[email]; err != nil {
		return err
	}
	lead.Email = email
	f.remote[campaignID][email] = lead
	return nil
}

func storeFilter(list string) store.LeadFilter {
	return store.LeadFilter{List: list, Status: model.LeadStatusGenerated}
}
