package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id             TEXT PRIMARY KEY,
	seq            INTEGER NOT NULL,
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
	claimed_at     DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_list_status_seq ON leads(list_name, status, seq);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	prompt           TEXT NOT NULL DEFAULT '',
	last_template_id TEXT,
	model_id         TEXT NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS research_cache (
	url_hash   TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	summary    TEXT NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_cache_expires_at ON research_cache(expires_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- leads ---

func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	rows, err := prepareLeads(leads, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert leads")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (`+strings.Join(leadInsertColumns, ", ")+`) VALUES (`+placeholders(len(leadInsertColumns))+`)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert lead %v", row[1])
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert leads")
	}
	return len(rows), nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	sl, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return &sl.lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.List != "" {
		query += ` AND list_name = ?`
		args = append(args, filter.List)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY seq`

	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		sl, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, sl.lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, list string, status model.LeadStatus) (int, error) {
	query := `SELECT COUNT(*) FROM leads WHERE list_name = ?`
	args := []any{list}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count leads %s/%s", list, status)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteList(ctx context.Context, list string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE list_name = ?`, list)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete list %s", list)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListSummaries(ctx context.Context) ([]model.ListSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT list_name, status, COUNT(*) FROM leads GROUP BY list_name, status ORDER BY list_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list summaries")
	}
	b := newSummaryBuilder()
	for rows.Next() {
		var list, status string
		var n int
		if err := rows.Scan(&list, &status, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		b.add(list, model.LeadStatus(status), n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list summaries iterate")
	}

	// Aggregates lose the DATETIME column type, so fetch the first lead's
	// created_at per list directly.
	created, err := s.db.QueryContext(ctx,
		`SELECT l.list_name, l.created_at FROM leads l
		 WHERE l.seq = (SELECT MIN(seq) FROM leads WHERE list_name = l.list_name)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list created times")
	}
	defer created.Close()
	for created.Next() {
		var list string
		var t time.Time
		if err := created.Scan(&list, &t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan created time")
		}
		b.setCreated(list, t)
	}
	if err := created.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list created times iterate")
	}
	return b.build(), nil
}

// --- claims and transitions ---

func (s *SQLiteStore) ClaimPending(ctx context.Context, list string, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	// A single UPDATE takes SQLite's write lock, so two runs can never claim
	// the same row.
	rows, err := s.db.QueryContext(ctx,
		`UPDATE leads SET status = ?, claimed_at = ?, updated_at = ?
		 WHERE status = ? AND id IN (
			SELECT id FROM leads WHERE list_name = ? AND status = ? ORDER BY seq LIMIT ?
		 )
		 RETURNING id`,
		string(model.LeadStatusInProgress), now, now,
		string(model.LeadStatusPending), list, string(model.LeadStatusPending), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim pending %s", list)
	}
	var ids []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan claimed id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim pending iterate")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// RETURNING columns carry no declared type, so reload the rows to get
	// typed timestamps.
	loaded, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id IN (`+placeholders(len(ids))+`) ORDER BY seq`, ids...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load claimed leads")
	}
	defer loaded.Close()

	var claimed []model.Lead
	for loaded.Next() {
		sl, err := scanLead(loaded)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claimed lead")
		}
		claimed = append(claimed, sl.lead)
	}
	return claimed, eris.Wrap(loaded.Err(), "sqlite: load claimed iterate")
}

func (s *SQLiteStore) ReleaseClaims(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{string(model.LeadStatusPending), time.Now().UTC(), string(model.LeadStatusInProgress)}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, claimed_at = NULL, updated_at = ?
		 WHERE status = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: release claims")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ReleaseStaleClaims(ctx context.Context, list string, claimedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, claimed_at = NULL, updated_at = ?
		 WHERE list_name = ? AND status IN (?, ?) AND claimed_at < ?`,
		string(model.LeadStatusPending), time.Now().UTC(),
		list, string(model.LeadStatusInProgress), string(model.LeadStatusScraped), claimedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: release stale claims %s", list)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) TransitionLead(ctx context.Context, id string, from []model.LeadStatus, upd model.LeadUpdate) error {
	if err := checkTransition(from, upd); err != nil {
		return err
	}

	args := []any{
		string(upd.Status),
		upd.ScrapeSummary,
		upd.ClearsIcebreaker(), upd.Icebreaker,
		upd.ErrorMessage,
		keepsClaim(upd.Status),
		time.Now().UTC(),
		id,
	}
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET
			status = ?,
			scrape_summary = COALESCE(?, scrape_summary),
			icebreaker = CASE WHEN ? THEN NULL ELSE COALESCE(?, icebreaker) END,
			error_message = ?,
			claimed_at = CASE WHEN ? THEN claimed_at ELSE NULL END,
			updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition lead %s to %s", id, upd.Status)
	}
	return s.explainMiss(ctx, res, id)
}

func (s *SQLiteStore) UpdateIcebreaker(ctx context.Context, id, icebreaker string) error {
	if strings.TrimSpace(icebreaker) == "" {
		return eris.New("store: icebreaker must not be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET icebreaker = ?, updated_at = ? WHERE id = ? AND status = ?`,
		icebreaker, time.Now().UTC(), id, string(model.LeadStatusGenerated),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update icebreaker %s", id)
	}
	return s.explainMiss(ctx, res, id)
}

// explainMiss turns a zero-row conditional update into ErrNotFound or
// ErrTransitionRejected.
func (s *SQLiteStore) explainMiss(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM leads WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: lead %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup lead %s", id)
	}
	return eris.Wrapf(ErrTransitionRejected, "sqlite: lead %s is %s", id, status)
}

// --- templates ---

func (s *SQLiteStore) CreateTemplate(ctx context.Context, name, content string) (*model.PromptTemplate, error) {
	t := &model.PromptTemplate{
		ID:        uuid.New().String(),
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompt_templates (id, name, content, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Content, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert template %q", name)
	}
	return t, nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*model.PromptTemplate, error) {
	var t model.PromptTemplate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, content, created_at FROM prompt_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: template %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get template %s", id)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.PromptTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, created_at FROM prompt_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close()

	var out []model.PromptTemplate
	for rows.Next() {
		var t model.PromptTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list templates iterate")
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompt_templates WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete template %s", id)
	}
	return checkRowsAffected(res, "template", id)
}

// --- settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var st model.Settings
	var lastTemplate *string
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt, last_template_id, model_id, updated_at FROM settings WHERE id = 1`,
	).Scan(&st.Prompt, &lastTemplate, &st.ModelID, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultSettings(), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get settings")
	}
	st.LastTemplateID = deref(lastTemplate)
	return &st, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, st model.Settings) error {
	if st.ModelID == "" {
		st.ModelID = model.DefaultModelID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, prompt, last_template_id, model_id, updated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			prompt = excluded.prompt,
			last_template_id = excluded.last_template_id,
			model_id = excluded.model_id,
			updated_at = excluded.updated_at`,
		st.Prompt, nullable(st.LastTemplateID), st.ModelID, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save settings")
}

// --- research cache ---

func (s *SQLiteStore) GetCachedResearch(ctx context.Context, urlHash string) (string, bool, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM research_cache WHERE url_hash = ? AND expires_at > ?`,
		urlHash, time.Now().UTC(),
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: get cached research")
	}
	return summary, true, nil
}

func (s *SQLiteStore) SetCachedResearch(ctx context.Context, urlHash, url, summary string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_cache (url_hash, url, summary, cached_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url_hash) DO UPDATE SET
			url = excluded.url,
			summary = excluded.summary,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		urlHash, url, summary, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached research")
}

func (s *SQLiteStore) DeleteExpiredResearch(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM research_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired research")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
