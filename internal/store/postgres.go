package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests pass a pgxmock pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq            BIGINT NOT NULL,
	first_name     TEXT,
	last_name      TEXT,
	email          TEXT NOT NULL,
	company_name   TEXT,
	website        TEXT,
	linkedin       TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	scrape_summary TEXT,
	icebreaker     TEXT,
	error_message  TEXT,
	list_name      TEXT NOT NULL,
	claimed_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT leads_icebreaker_status CHECK (
		(icebreaker IS NOT NULL) = (status IN ('generated', 'exported'))
	)
);

CREATE INDEX IF NOT EXISTS idx_leads_list_status_seq ON leads(list_name, status, seq);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	id               SMALLINT PRIMARY KEY CHECK (id = 1),
	prompt           TEXT NOT NULL DEFAULT '',
	last_template_id TEXT,
	model_id         TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS research_cache (
	url_hash   TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	summary    TEXT NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_cache_expires_at ON research_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- leads ---

func (s *PostgresStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	rows, err := prepareLeads(leads, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := db.CopyAll(ctx, s.pool, "leads", leadInsertColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert leads")
	}
	return int(n), nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	sl, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return &sl.lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.List != "" {
		query += fmt.Sprintf(` AND list_name = $%d`, argIdx)
		args = append(args, filter.List)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY seq`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	sls, err := collectLeads(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	out := make([]model.Lead, len(sls))
	for i := range sls {
		out[i] = sls[i].lead
	}
	return out, nil
}

func (s *PostgresStore) CountLeads(ctx context.Context, list string, status model.LeadStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE list_name = $1 AND ($2 = '' OR status = $2)`,
		list, string(status),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count leads %s/%s", list, status)
	}
	return n, nil
}

func (s *PostgresStore) DeleteList(ctx context.Context, list string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE list_name = $1`, list)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete list %s", list)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context) ([]model.ListSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT list_name, status, COUNT(*), MIN(created_at) FROM leads GROUP BY list_name, status ORDER BY list_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list summaries")
	}
	defer rows.Close()

	b := newSummaryBuilder()
	first := make(map[string]time.Time)
	for rows.Next() {
		var list, status string
		var n int
		var created time.Time
		if err := rows.Scan(&list, &status, &n, &created); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		b.add(list, model.LeadStatus(status), n)
		if t, ok := first[list]; !ok || created.Before(t) {
			first[list] = created
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list summaries iterate")
	}
	for list, t := range first {
		b.setCreated(list, t)
	}
	return b.build(), nil
}

// --- claims and transitions ---

func (s *PostgresStore) ClaimPending(ctx context.Context, list string, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE leads SET status = $1, claimed_at = $2, updated_at = $2
		 WHERE id IN (
			SELECT id FROM leads WHERE list_name = $3 AND status = $4
			ORDER BY seq LIMIT $5
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+leadColumns,
		string(model.LeadStatusInProgress), time.Now().UTC(), list, string(model.LeadStatusPending), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim pending %s", list)
	}
	claimed, err := collectLeads(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim pending %s", list)
	}
	return sortBySeq(claimed), nil
}

func (s *PostgresStore) ReleaseClaims(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, claimed_at = NULL, updated_at = $2
		 WHERE status = $3 AND id = ANY($4)`,
		string(model.LeadStatusPending), time.Now().UTC(), string(model.LeadStatusInProgress), ids,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: release claims")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, list string, claimedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, claimed_at = NULL, updated_at = $2
		 WHERE list_name = $3 AND status = ANY($4) AND claimed_at < $5`,
		string(model.LeadStatusPending), time.Now().UTC(), list,
		[]string{string(model.LeadStatusInProgress), string(model.LeadStatusScraped)}, claimedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: release stale claims %s", list)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) TransitionLead(ctx context.Context, id string, from []model.LeadStatus, upd model.LeadUpdate) error {
	if err := checkTransition(from, upd); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET
			status = $1,
			scrape_summary = COALESCE($2, scrape_summary),
			icebreaker = CASE WHEN $3::boolean THEN NULL ELSE COALESCE($4, icebreaker) END,
			error_message = $5,
			claimed_at = CASE WHEN $6::boolean THEN claimed_at ELSE NULL END,
			updated_at = $7
		 WHERE id = $8 AND status = ANY($9)`,
		string(upd.Status), upd.ScrapeSummary, upd.ClearsIcebreaker(), upd.Icebreaker,
		upd.ErrorMessage, keepsClaim(upd.Status), time.Now().UTC(), id, statusStrings(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition lead %s to %s", id, upd.Status)
	}
	return s.explainMiss(ctx, tag, id)
}

func (s *PostgresStore) UpdateIcebreaker(ctx context.Context, id, icebreaker string) error {
	if strings.TrimSpace(icebreaker) == "" {
		return eris.New("store: icebreaker must not be empty")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET icebreaker = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		icebreaker, time.Now().UTC(), id, string(model.LeadStatusGenerated),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update icebreaker %s", id)
	}
	return s.explainMiss(ctx, tag, id)
}

func (s *PostgresStore) explainMiss(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM leads WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup lead %s", id)
	}
	return eris.Wrapf(ErrTransitionRejected, "postgres: lead %s is %s", id, status)
}

// --- templates ---

func (s *PostgresStore) CreateTemplate(ctx context.Context, name, content string) (*model.PromptTemplate, error) {
	t := &model.PromptTemplate{
		ID:        uuid.New().String(),
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_templates (id, name, content, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Content, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert template %q", name)
	}
	return t, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*model.PromptTemplate, error) {
	var t model.PromptTemplate
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, content, created_at FROM prompt_templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: template %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get template %s", id)
	}
	return &t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.PromptTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, content, created_at FROM prompt_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var out []model.PromptTemplate
	for rows.Next() {
		var t model.PromptTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM prompt_templates WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete template %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: template %s", id)
	}
	return nil
}

// --- settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var st model.Settings
	var lastTemplate *string
	err := s.pool.QueryRow(ctx,
		`SELECT prompt, last_template_id, model_id, updated_at FROM settings WHERE id = 1`,
	).Scan(&st.Prompt, &lastTemplate, &st.ModelID, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultSettings(), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	st.LastTemplateID = deref(lastTemplate)
	return &st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st model.Settings) error {
	if st.ModelID == "" {
		st.ModelID = model.DefaultModelID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (id, prompt, last_template_id, model_id, updated_at) VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
			prompt = EXCLUDED.prompt,
			last_template_id = EXCLUDED.last_template_id,
			model_id = EXCLUDED.model_id,
			updated_at = EXCLUDED.updated_at`,
		st.Prompt, nullable(st.LastTemplateID), st.ModelID, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save settings")
}

// --- research cache ---

func (s *PostgresStore) GetCachedResearch(ctx context.Context, urlHash string) (string, bool, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM research_cache WHERE url_hash = $1 AND expires_at > now()`, urlHash,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: get cached research")
	}
	return summary, true, nil
}

func (s *PostgresStore) SetCachedResearch(ctx context.Context, urlHash, url, summary string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_cache (url_hash, url, summary, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (url_hash) DO UPDATE SET
			url = EXCLUDED.url,
			summary = EXCLUDED.summary,
			cached_at = EXCLUDED.cached_at,
			expires_at = EXCLUDED.expires_at`,
		urlHash, url, summary, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached research")
}

func (s *PostgresStore) DeleteExpiredResearch(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM research_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired research")
	}
	return int(tag.RowsAffected()), nil
}

func collectLeads(rows pgx.Rows) ([]seqLead, error) {
	defer rows.Close()
	var out []seqLead
	for rows.Next() {
		sl, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan lead")
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}
