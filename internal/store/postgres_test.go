package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_InsertLeads_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadInsertColumns).WillReturnResult(2)
	mock.ExpectCommit()

	leads := []model.Lead{
		{Email: "ana@acme.com", FirstName: "Ana", ListName: "q3"},
		{Email: "bo@beta.io", ListName: "q3"},
	}
	n, err := s.InsertLeads(context.Background(), leads)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotEmpty(t, leads[0].ID)
	assert.Equal(t, model.LeadStatusPending, leads[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountLeads(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leads WHERE list_name = \$1`).
		WithArgs("q3", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountLeads(context.Background(), "q3", model.LeadStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseClaims(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET status = \$1, claimed_at = NULL`).
		WithArgs("pending", pgxmock.AnyArg(), "in_progress", []string{"a", "b"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ReleaseClaims(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseClaims_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	n, err := s.ReleaseClaims(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionLead_Applied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET`).
		WithArgs("generated", pgxmock.AnyArg(), false, pgxmock.AnyArg(), pgxmock.AnyArg(), false,
			pgxmock.AnyArg(), "lead-1", []string{"in_progress", "scraped"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.TransitionLead(context.Background(), "lead-1",
		[]model.LeadStatus{model.LeadStatusInProgress, model.LeadStatusScraped},
		model.Generated("summary", "hello"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionLead_Rejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM leads WHERE id = \$1`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("exported"))

	err := s.TransitionLead(context.Background(), "lead-1",
		[]model.LeadStatus{model.LeadStatusGenerated}, model.Exported())
	assert.True(t, errors.Is(err, ErrTransitionRejected), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM leads WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	err := s.TransitionLead(context.Background(), "ghost",
		[]model.LeadStatus{model.LeadStatusGenerated}, model.Exported())
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionLead_InvalidEdgeSkipsSQL(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.TransitionLead(context.Background(), "lead-1",
		[]model.LeadStatus{model.LeadStatusError}, model.Generated("s", "i"))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSettings_Default(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT prompt, last_template_id, model_id, updated_at FROM settings`).
		WillReturnError(pgx.ErrNoRows)

	st, err := s.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultModelID, st.ModelID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSettings_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("Hi {{firstName}}", nil, model.DefaultModelID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveSettings(context.Background(), model.Settings{Prompt: "Hi {{firstName}}"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResearchCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT summary FROM research_cache`).
		WithArgs("h1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`ON CONFLICT \(url_hash\) DO UPDATE`).
		WithArgs("h1", "https://acme.com", "summary", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT summary FROM research_cache`).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"summary"}).AddRow("summary"))

	ctx := context.Background()
	_, ok, err := s.GetCachedResearch(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCachedResearch(ctx, "h1", "https://acme.com", "summary", 24*time.Hour))

	got, ok, err := s.GetCachedResearch(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "summary", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteList(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM leads WHERE list_name = \$1`).
		WithArgs("q3").
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := s.DeleteList(context.Background(), "q3")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
