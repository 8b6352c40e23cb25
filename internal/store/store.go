// Package store persists leads, prompt templates, settings and the research
// cache. Postgres and SQLite implementations share the same contract.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrTransitionRejected is returned when a lead exists but is not in one
	// of the statuses a conditional update requires.
	ErrTransitionRejected = eris.New("store: transition rejected")
)

// LeadFilter narrows ListLeads. Zero values match everything; Limit <= 0
// returns every matching lead.
type LeadFilter struct {
	List   string           `json:"list,omitempty"`
	Status model.LeadStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the outreach pipeline.
type Store interface {
	// Leads
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, list string, status model.LeadStatus) (int, error)
	DeleteList(ctx context.Context, list string) (int, error)
	ListSummaries(ctx context.Context) ([]model.ListSummary, error)

	// Claims and transitions. ClaimPending atomically moves up to limit
	// pending leads of list to in_progress and returns them in arrival order.
	ClaimPending(ctx context.Context, list string, limit int) ([]model.Lead, error)
	ReleaseClaims(ctx context.Context, ids []string) (int, error)
	ReleaseStaleClaims(ctx context.Context, list string, claimedBefore time.Time) (int, error)
	TransitionLead(ctx context.Context, id string, from []model.LeadStatus, upd model.LeadUpdate) error
	UpdateIcebreaker(ctx context.Context, id, icebreaker string) error

	// Templates
	CreateTemplate(ctx context.Context, name, content string) (*model.PromptTemplate, error)
	GetTemplate(ctx context.Context, id string) (*model.PromptTemplate, error)
	ListTemplates(ctx context.Context) ([]model.PromptTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error

	// Settings singleton
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, settings model.Settings) error

	// Research cache
	GetCachedResearch(ctx context.Context, urlHash string) (string, bool, error)
	SetCachedResearch(ctx context.Context, urlHash, url, summary string, ttl time.Duration) error
	DeleteExpiredResearch(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
