package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Beginner opens transactions. Pool and pgxmock pools both satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CopyAll loads rows into table with COPY inside a single transaction. The
// load is all-or-nothing: a short copy (server count differs from len(rows))
// is rolled back and reported as an error.
func CopyAll(ctx context.Context, b Beginner, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: begin copy into %s", table)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err == nil && n != int64(len(rows)) {
		err = eris.Errorf("db: short copy into %s: %d of %d rows", table, n, len(rows))
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: commit copy into %s", table)
	}
	return n, nil
}
