package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
)

// CarRepository reads and writes the cars table.
type CarRepository struct {
	store  car.TableStore
	table  string
	logger *zap.Logger
}

// NewCarRepository wires a repository over store.
func NewCarRepository(store car.TableStore, table string, logger *zap.Logger) *CarRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CarRepository{store: store, table: table, logger: logger}
}

// Table returns the cars table name.
func (r *CarRepository) Table() string { return r.table }

// InsertOutcome is the result of InsertCar.
type InsertOutcome struct {
	Car      car.StoredCar
	Existing bool
	Attempts int
	Dropped  []string
}

// InsertCar stores rec. Re-submitting a stock number that already exists
// returns the stored row with Existing set instead of failing.
func (r *CarRepository) InsertCar(ctx context.Context, rec car.Record, onRetry func(int)) (InsertOutcome, error) {
	res, err := InsertWithFallback(ctx, r.store, r.table, rec.Row(), InsertOptions{
		Protected: car.RequiredFields,
		OnRetry:   onRetry,
	})
	out := InsertOutcome{Attempts: res.Attempts, Dropped: res.Dropped}
	var conflict *car.ConflictError
	if errors.As(err, &conflict) && conflict.Involves(car.ColStockNo) {
		existing, ferr := r.FindByStockNo(ctx, rec.StockNo)
		if ferr != nil {
			return out, fmt.Errorf("read back stock_no %s after conflict: %w", rec.StockNo, errors.Join(err, ferr))
		}
		r.logger.Info("car already stored",
			zap.String("stock_no", rec.StockNo),
			zap.String("car_id", existing.ID))
		out.Car = existing
		out.Existing = true
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if len(res.Dropped) > 0 {
		r.logger.Warn("car inserted without optional columns",
			zap.String("table", r.table),
			zap.Strings("dropped", res.Dropped))
	}
	if len(res.Rows) == 0 {
		return out, &car.UpstreamError{Op: "insert " + r.table, Err: errors.New("no row returned")}
	}
	out.Car = car.StoredCarFromRow(res.Rows[0])
	if out.Car.ID == "" {
		return out, &car.UpstreamError{Op: "insert " + r.table, Err: errors.New("stored row has no identifier")}
	}
	return out, nil
}

// UpdateOutcome is the result of UpdateCar.
type UpdateOutcome struct {
	Car          car.StoredCar
	Dropped      []string
	SpecsDropped bool
}

// UpdateCar applies sanitized updates to the car identified by id, matching on
// id first and car_id second.
func (r *CarRepository) UpdateCar(ctx context.Context, id string, updates car.Row) (UpdateOutcome, error) {
	if id == "" {
		return UpdateOutcome{}, car.Invalid(car.ColCarID, "car_id is required")
	}
	if len(updates) == 0 {
		return UpdateOutcome{}, car.Invalid("updates", "no editable fields in updates")
	}
	for _, key := range []string{car.ColID, car.ColCarID} {
		res, err := UpdateWithFallback(ctx, r.store, r.table, updates, car.Eq(key, id))
		if errors.Is(err, car.ErrNoRows) {
			continue
		}
		if err != nil {
			return UpdateOutcome{}, err
		}
		out := UpdateOutcome{
			Car:          car.StoredCarFromRow(res.Rows[0]),
			Dropped:      res.Dropped,
			SpecsDropped: res.DroppedColumn(car.ColSpecs),
		}
		if len(res.Dropped) > 0 {
			r.logger.Warn("car updated without some columns",
				zap.String("car_id", id),
				zap.Strings("dropped", res.Dropped))
		}
		return out, nil
	}
	return UpdateOutcome{}, fmt.Errorf("update car %s: %w", id, car.ErrNotFound)
}

// HideCar takes a car off the public catalog.
func (r *CarRepository) HideCar(ctx context.Context, id string) (car.StoredCar, error) {
	out, err := r.UpdateCar(ctx, id, car.Row{car.ColStatus: car.StatusHidden})
	if err != nil {
		return car.StoredCar{}, err
	}
	return out.Car, nil
}

// ListCars returns up to limit cars, newest first. Rows without a usable
// identifier are skipped and rows without a creation time sort last.
func (r *CarRepository) ListCars(ctx context.Context, limit int) ([]car.StoredCar, error) {
	q := car.Query{OrderBy: car.ColCreatedAt, Desc: true, Limit: limit}
	rows, err := r.store.Select(ctx, r.table, q)
	var mismatch *car.SchemaMismatchError
	if errors.As(err, &mismatch) && mismatch.Column == car.ColCreatedAt {
		rows, err = r.store.Select(ctx, r.table, car.Query{Limit: limit})
	}
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	cars := make([]car.StoredCar, 0, len(rows))
	for _, row := range rows {
		c := car.StoredCarFromRow(row)
		if c.ID == "" {
			continue
		}
		cars = append(cars, c)
	}
	sort.SliceStable(cars, func(i, j int) bool {
		a, b := cars[i].CreatedAt, cars[j].CreatedAt
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.After(b)
	})
	return cars, nil
}

// GetCar loads one car by id or car_id.
func (r *CarRepository) GetCar(ctx context.Context, id string) (car.StoredCar, error) {
	row, err := r.first(ctx, id, car.ColID, car.ColCarID)
	if err != nil {
		return car.StoredCar{}, err
	}
	return car.StoredCarFromRow(row), nil
}

// FindByStockNo loads the car carrying stockNo.
func (r *CarRepository) FindByStockNo(ctx context.Context, stockNo string) (car.StoredCar, error) {
	row, err := r.first(ctx, stockNo, car.ColStockNo)
	if err != nil {
		return car.StoredCar{}, err
	}
	return car.StoredCarFromRow(row), nil
}

func (r *CarRepository) first(ctx context.Context, value string, keys ...string) (car.Row, error) {
	for _, key := range keys {
		rows, err := r.store.Select(ctx, r.table, car.Query{Where: []car.Filter{car.Eq(key, value)}, Limit: 1})
		var mismatch *car.SchemaMismatchError
		if errors.As(err, &mismatch) && mismatch.Column == key {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load car by %s: %w", key, err)
		}
		if len(rows) > 0 {
			return rows[0], nil
		}
	}
	return nil, fmt.Errorf("car %s: %w", value, car.ErrNotFound)
}
