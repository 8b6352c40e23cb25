package model

import (
	"strings"
	"time"
)

// LeadStatus is the pipeline state of a lead.
type LeadStatus string

const (
	LeadStatusPending    LeadStatus = "pending"
	LeadStatusInProgress LeadStatus = "in_progress" // claimed by an orchestrator run
	LeadStatusScraped    LeadStatus = "scraped"     // research persisted, generation outstanding
	LeadStatusGenerated  LeadStatus = "generated"
	LeadStatusError      LeadStatus = "error"
	LeadStatusExported   LeadStatus = "exported"
)

// AllLeadStatuses lists every status in pipeline order.
var AllLeadStatuses = []LeadStatus{
	LeadStatusPending,
	LeadStatusInProgress,
	LeadStatusScraped,
	LeadStatusGenerated,
	LeadStatusError,
	LeadStatusExported,
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, v := range AllLeadStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the automated pipeline never moves a lead out of s
// on its own (a manual icebreaker edit keeps generated leads generated).
func (s LeadStatus) Terminal() bool {
	return s == LeadStatusError || s == LeadStatusExported
}

// transitions enumerates the allowed automated and manual status changes.
var transitions = map[LeadStatus][]LeadStatus{
	LeadStatusPending:    {LeadStatusInProgress},
	LeadStatusInProgress: {LeadStatusScraped, LeadStatusGenerated, LeadStatusError, LeadStatusPending},
	LeadStatusScraped:    {LeadStatusGenerated, LeadStatusError, LeadStatusPending},
	LeadStatusGenerated:  {LeadStatusGenerated, LeadStatusExported},
}

// CanTransition reports whether a lead may move from one status to another.
func CanTransition(from, to LeadStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which a lead may move to "to".
func SourcesFor(to LeadStatus) []LeadStatus {
	var out []LeadStatus
	for _, from := range AllLeadStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Lead is one imported contact progressing through the pipeline.
// Optional text fields use "" for absent values; stores persist them as NULL.
type Lead struct {
	ID            string     `json:"id"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Email         string     `json:"email"`
	CompanyName   string     `json:"company_name,omitempty"`
	Website       string     `json:"website,omitempty"`
	LinkedIn      string     `json:"linkedin,omitempty"`
	Status        LeadStatus `json:"status"`
	ScrapeSummary string     `json:"scrape_summary,omitempty"`
	Icebreaker    string     `json:"icebreaker,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ListName      string     `json:"list_name"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an email address for dedup and opt-out checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LeadUpdate describes the fields written by a status transition. Nil
// pointers leave the stored value untouched.
type LeadUpdate struct {
	Status        LeadStatus
	ScrapeSummary *string
	Icebreaker    *string
	ErrorMessage  *string
}

// ResearchDone marks a lead scraped with its summary.
func ResearchDone(summary string) LeadUpdate {
	return LeadUpdate{Status: LeadStatusScraped, ScrapeSummary: &summary}
}

// Generated marks a lead generated with both pipeline outputs.
func Generated(summary, icebreaker string) LeadUpdate {
	return LeadUpdate{Status: LeadStatusGenerated, ScrapeSummary: &summary, Icebreaker: &icebreaker}
}

// Failed marks a lead errored. The summary is kept when research succeeded.
func Failed(summary, msg string) LeadUpdate {
	u := LeadUpdate{Status: LeadStatusError, ErrorMessage: &msg}
	if summary != "" {
		u.ScrapeSummary = &summary
	}
	return u
}

// Exported marks a lead pushed to the campaign platform.
func Exported() LeadUpdate {
	return LeadUpdate{Status: LeadStatusExported}
}

// ClearsIcebreaker reports whether applying u must null the icebreaker so that
// icebreaker stays set only for generated and exported leads.
func (u LeadUpdate) ClearsIcebreaker() bool {
	return u.Status != LeadStatusGenerated && u.Status != LeadStatusExported
}

// ListSummary aggregates the leads of one import list.
type ListSummary struct {
	Name      string             `json:"name"`
	Total     int                `json:"total"`
	Counts    map[LeadStatus]int `json:"counts"`
	CreatedAt time.Time          `json:"created_at"`
}

// Count returns the number of leads in the list with status s.
func (l ListSummary) Count(s LeadStatus) int {
	return l.Counts[s]
}
