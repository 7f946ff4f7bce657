package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/neorise/storefront/internal/car"
)

func newMockStore(t *testing.T) (*TableStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewTableStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestInsertBuildsSortedColumnsAndReturnsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cars" ("price", "specs_json", "title") VALUES ($1, $2, $3), ($4, DEFAULT, $5) RETURNING *`)).
		WithArgs(100, `{"steering":"LHD"}`, "A", 200, "B").
		WillReturnRows(mock.NewRows([]string{"id", "title"}).AddRow("c1", "A").AddRow("c2", "B"))

	rows, err := store.Insert(context.Background(), "cars", []car.Row{
		{"title": "A", "price": 100, "specs_json": map[string]string{"steering": "LHD"}},
		{"title": "B", "price": 200},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "c1", rows[0]["id"])
	require.Equal(t, "B", rows[1]["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEmptyRowUsesDefaultValues(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "ingest_tasks" DEFAULT VALUES RETURNING *`)).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("t1"))

	rows, err := store.Insert(context.Background(), "ingest_tasks", []car.Row{{}})
	require.NoError(t, err)
	require.Equal(t, "t1", rows[0]["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRejectsInvalidIdentifiers(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	_, err := store.Insert(context.Background(), "cars; drop", []car.Row{{"title": "A"}})
	require.ErrorContains(t, err, "invalid table name")

	_, err = store.Insert(context.Background(), "cars", []car.Row{{"bad column": "A"}})
	require.ErrorContains(t, err, "invalid column name")
}

func TestInsertClassifiesPostgresErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		pgErr *pgconn.PgError
		check func(t *testing.T, err error)
	}{
		{
			name:  "undefined column",
			pgErr: &pgconn.PgError{Code: "42703", Message: `column "engine" of relation "cars" does not exist`},
			check: func(t *testing.T, err error) {
				var mismatch *car.SchemaMismatchError
				require.ErrorAs(t, err, &mismatch)
				require.Equal(t, "engine", mismatch.Column)
				require.Equal(t, "cars", mismatch.Table)
			},
		},
		{
			name:  "undefined table",
			pgErr: &pgconn.PgError{Code: "42P01", Message: `relation "cars" does not exist`},
			check: func(t *testing.T, err error) {
				var missing *car.TableMissingError
				require.ErrorAs(t, err, &missing)
			},
		},
		{
			name: "unique violation",
			pgErr: &pgconn.PgError{
				Code:           "23505",
				Message:        "duplicate key value violates unique constraint",
				ConstraintName: "cars_stock_no_key",
				Detail:         "Key (stock_no)=(ABC-123) already exists.",
			},
			check: func(t *testing.T, err error) {
				var conflict *car.ConflictError
				require.ErrorAs(t, err, &conflict)
				require.Equal(t, []string{"stock_no"}, conflict.Columns)
				require.True(t, conflict.Involves("stock_no"))
			},
		},
		{
			name:  "other",
			pgErr: &pgconn.PgError{Code: "23502", Message: "null value in column"},
			check: func(t *testing.T, err error) {
				var upstream *car.UpstreamError
				require.ErrorAs(t, err, &upstream)
				require.Equal(t, "insert cars", upstream.Op)
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t)
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cars"`)).
				WithArgs("A").
				WillReturnError(tc.pgErr)
			_, err := store.Insert(context.Background(), "cars", []car.Row{{"title": "A"}})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cars"`)).
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Select(context.Background(), "cars", car.Query{})
	var transient *car.TransientError
	require.ErrorAs(t, err, &transient)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpdateReturnsRowsAndTreatsBadFilterAsNoMatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "cars" SET "price" = $1, "title" = $2 WHERE "id" = $3 RETURNING *`)).
		WithArgs(5, "X", "c1").
		WillReturnRows(mock.NewRows([]string{"id", "title", "price"}).AddRow("c1", "X", 5))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "cars" SET "title" = $1 WHERE "id" = $2 RETURNING *`)).
		WithArgs("X", "not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})

	rows, err := store.Update(context.Background(), "cars", car.Row{"title": "X", "price": 5}, car.Eq("id", "c1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "X", rows[0]["title"])

	rows, err = store.Update(context.Background(), "cars", car.Row{"title": "X"}, car.Eq("id", "not-a-uuid"))
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectBuildsWhereOrderAndLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cars" WHERE "status" IN ($1, $2) AND "year" < $3 ORDER BY "created_at" DESC NULLS LAST LIMIT 10`)).
		WithArgs("active", "available", 2020).
		WillReturnRows(mock.NewRows([]string{"id", "status"}).AddRow("c1", "active"))

	rows, err := store.Select(context.Background(), "cars", car.Query{
		Where:   []car.Filter{car.In("status", "active", "available"), car.Lt("year", 2020)},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   10,
	})
	require.NoError(t, err)
	require.Equal(t, []car.Row{{"id": "c1", "status": "active"}}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReturnsAffectedRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "car_images" WHERE "car_id" = $1`)).
		WithArgs("c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.Delete(context.Background(), "car_images", car.Eq("car_id", "c1"))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRowsCommitsTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "car_images" WHERE "car_id" = $1`)).
		WithArgs("c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "car_images" ("car_id", "image_url", "sort_order") VALUES ($1, $2, $3), ($4, $5, $6) RETURNING *`)).
		WithArgs("c1", "u1", 0, "c1", "u2", 1).
		WillReturnRows(mock.NewRows([]string{"car_id", "image_url", "sort_order"}).
			AddRow("c1", "u1", 0).
			AddRow("c1", "u2", 1))
	mock.ExpectCommit()

	rows, err := store.ReplaceRows(context.Background(), "car_images", car.Eq("car_id", "c1"), []car.Row{
		car.Image{CarID: "c1", URL: "u1", SortOrder: 0}.Row(),
		car.Image{CarID: "c1", URL: "u2", SortOrder: 1}.Row(),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRowsRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "car_images" WHERE "car_id" = $1`)).
		WithArgs("c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "car_images"`)).
		WithArgs("c1", "u1", 0).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := store.ReplaceRows(context.Background(), "car_images", car.Eq("car_id", "c1"), []car.Row{
		car.Image{CarID: "c1", URL: "u1"}.Row(),
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewTableStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
}

func TestNewTableStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewTableStore(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn")

	_, err = NewTableStoreWithPool(nil)
	require.Error(t, err)
}
