package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leadColumns = []string{"id", "email", "list_name"}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestCopyAll_NoRowsSkipsTransaction(t *testing.T) {
	mock := newMockPool(t)

	n, err := CopyAll(context.Background(), mock, "leads", leadColumns, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyAll_CommitsFullLoad(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadColumns).WillReturnResult(2)
	mock.ExpectCommit()

	rows := [][]any{{"a", "ana@acme.com", "q3"}, {"b", "bo@beta.io", "q3"}}
	n, err := CopyAll(context.Background(), mock, "leads", leadColumns, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyAll_ShortCopyRollsBack(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadColumns).WillReturnResult(1)
	mock.ExpectRollback()

	rows := [][]any{{"a", "ana@acme.com", "q3"}, {"b", "bo@beta.io", "q3"}}
	_, err := CopyAll(context.Background(), mock, "leads", leadColumns, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short copy into leads: 1 of 2 rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyAll_CopyErrorRollsBack(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadColumns).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := CopyAll(context.Background(), mock, "leads", leadColumns, [][]any{{"a", "ana@acme.com", "q3"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: copy into leads")
	assert.Contains(t, err.Error(), "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyAll_BeginError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

	_, err := CopyAll(context.Background(), mock, "leads", leadColumns, [][]any{{"a", "ana@acme.com", "q3"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin copy into leads")
}
