package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neorise/storefront/internal/car"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newCarsStore() *TableStore {
	s := NewTableStore(&seqIDs{}, fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	s.CreateTable("cars", TableSpec{
		Columns: []string{"title", "stock_no", "price", "created_at"},
		Unique:  []string{"stock_no"},
	})
	return s
}

func TestInsertAssignsKeyAndCreatedAt(t *testing.T) {
	t.Parallel()

	s := newCarsStore()
	rows, err := s.Insert(context.Background(), "cars", []car.Row{{"title": "A", "stock_no": "S-1"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "id-1", rows[0]["id"])
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rows[0]["created_at"])
}

func TestInsertRejectsUnknownColumnAndMissingTable(t *testing.T) {
	t.Parallel()

	s := newCarsStore()
	_, err := s.Insert(context.Background(), "cars", []car.Row{{"title": "A", "zzz": 1, "engine": "V8"}})
	var mismatch *car.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "engine", mismatch.Column)

	_, err = s.Insert(context.Background(), "ingest_tasks", []car.Row{{"status": "running"}})
	var missing *car.TableMissingError
	require.ErrorAs(t, err, &missing)
	require.Empty(t, s.Rows("cars"))
}

func TestInsertConflictIsAllOrNothing(t *testing.T) {
	t.Parallel()

	s := newCarsStore()
	_, err := s.Insert(context.Background(), "cars", []car.Row{{"stock_no": "S-1"}})
	require.NoError(t, err)

	_, err = s.Insert(context.Background(), "cars", []car.Row{{"stock_no": "S-2"}, {"stock_no": "S-1"}})
	var conflict *car.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.True(t, conflict.Involves("stock_no"))
	require.Len(t, s.Rows("cars"), 1)
}

func TestUpdateSelectDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newCarsStore()
	_, err := s.Insert(ctx, "cars", []car.Row{
		{"title": "A", "stock_no": "S-1", "price": 300},
		{"title": "B", "stock_no": "S-2", "price": 100},
		{"title": "C", "stock_no": "S-3", "price": 200},
	})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "cars", car.Row{"title": "B2"}, car.Eq("stock_no", "S-2"))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, "B2", updated[0]["title"])

	none, err := s.Update(ctx, "cars", car.Row{"title": "X"}, car.Eq("id", "nope"))
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = s.Update(ctx, "cars", car.Row{"stock_no": "S-1"}, car.Eq("stock_no", "S-3"))
	var conflict *car.ConflictError
	require.ErrorAs(t, err, &conflict)

	rows, err := s.Select(ctx, "cars", car.Query{OrderBy: "price", Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "B2", rows[0]["title"])
	require.Equal(t, "C", rows[1]["title"])

	rows, err = s.Select(ctx, "cars", car.Query{Where: []car.Filter{car.In("stock_no", "S-1", "S-3")}, OrderBy: "price", Desc: true})
	require.NoError(t, err)
	require.Equal(t, "A", rows[0]["title"])

	rows, err = s.Select(ctx, "cars", car.Query{Where: []car.Filter{car.Lt("price", 250)}})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	n, err := s.Delete(ctx, "cars", car.In("stock_no", "S-1", "S-2"))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Len(t, s.Rows("cars"), 1)

	_, err = s.Select(ctx, "cars", car.Query{Where: []car.Filter{car.Eq("car_id", "x")}})
	var mismatch *car.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "car_id", mismatch.Column)
}

func TestFailNextIsConsumedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newCarsStore()
	boom := errors.New("boom")
	s.FailNext(OpSelect, "cars", boom)

	_, err := s.Select(ctx, "cars", car.Query{})
	require.ErrorIs(t, err, boom)
	_, err = s.Select(ctx, "cars", car.Query{})
	require.NoError(t, err)
}
