package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/cartext"
	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ledger"
	"github.com/neorise/storefront/internal/persist"
	"github.com/neorise/storefront/internal/storage/memory"
)

const demoText = "title: Demo Car\nprice: $10,000\nyear: 2020\nmileage: 1,000\nengine: 2.0L\ntrans: Automatic\nfuel: Gasoline\nstatus: available\nstock_no: T-0001"

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingNotifier struct {
	kinds []car.ChangeKind
	ids   []string
}

func (n *recordingNotifier) CarChanged(_ context.Context, kind car.ChangeKind, carID, _ string) {
	n.kinds = append(n.kinds, kind)
	n.ids = append(n.ids, carID)
}

type harness struct {
	svc      *Service
	tables   *memory.TableStore
	blobs    *memory.BlobStore
	notifier *recordingNotifier
}

var carColumns = []string{
	car.ColBrand, car.ColModel, car.ColTitle, car.ColPrice, car.ColYear, car.ColMileage, car.ColEngine,
	car.ColTrans, car.ColFuel, car.ColStatus, car.ColStockNo, car.ColSpecs, car.ColCreatedAt,
}

// legacyCarColumns lacks brand and model, so every insert drops both.
var legacyCarColumns = carColumns[2:]

func newHarness(t *testing.T, withTasks bool) harness {
	t.Helper()
	return newHarnessWithCars(t, withTasks, carColumns)
}

func newHarnessWithCars(t *testing.T, withTasks bool, columns []string) harness {
	t.Helper()
	clock := fixedClock{now: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)}
	tables := memory.NewTableStore(&seqIDs{}, clock)
	tables.CreateTable("cars", memory.TableSpec{
		Columns: columns,
		Unique:  []string{car.ColStockNo},
	})
	tables.CreateTable("car_images", memory.TableSpec{
		Columns: []string{car.ColCarID, car.ColImageURL, car.ColSortOrder},
	})
	if withTasks {
		tables.CreateTable("ingest_tasks", memory.TableSpec{
			Columns: []string{
				car.ColStatus, car.ColRetryCount, car.ColErrorMessage, car.ColCarID, car.ColStockNo, car.ColCreatedAt,
			},
		})
	}
	blobs := memory.NewBlobStore("https://cdn.example.com")
	notifier := &recordingNotifier{}
	svc, err := NewService(Deps{
		Parser:   cartext.NewParser(cartext.WithClock(clock), cartext.WithRandom(bytes.NewReader([]byte{1, 2, 3, 4}))),
		Cars:     persist.NewCarRepository(tables, "cars", nil),
		Images:   images.NewReconciler(tables, blobs, images.Config{Table: "car_images", Prefix: "car"}, clock, nil),
		Ledger:   ledger.New(tables, "ingest_tasks", clock, nil),
		Notifier: notifier,
	})
	require.NoError(t, err)
	return harness{svc: svc, tables: tables, blobs: blobs, notifier: notifier}
}

func photo() images.File {
	return images.File{Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}
}

func TestIngestStoresCarImagesAndTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	res, err := h.svc.Ingest(context.Background(), Request{Text: demoText, Files: []images.File{photo()}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CarID)
	assert.Equal(t, 1, res.InsertedImages)
	assert.Equal(t, 1, res.UploadedFiles)
	assert.NotEmpty(t, res.TaskID)
	assert.Empty(t, res.LoggingWarning)

	cars := h.tables.Rows("cars")
	require.Len(t, cars, 1)
	stored := car.StoredCarFromRow(cars[0])
	assert.Equal(t, 10000, stored.Price)
	assert.Equal(t, 2020, stored.Year)
	assert.Equal(t, 1000, stored.Mileage)
	assert.Equal(t, "T-0001", stored.StockNo)

	imgs := h.tables.Rows("car_images")
	require.Len(t, imgs, 1)
	img := car.ImageFromRow(imgs[0])
	assert.Equal(t, res.CarID, img.CarID)
	assert.Equal(t, 0, img.SortOrder)

	tasks := h.tables.Rows("ingest_tasks")
	require.Len(t, tasks, 1)
	task := car.TaskFromRow(tasks[0])
	assert.Equal(t, car.TaskSuccess, task.Status)
	assert.Equal(t, res.CarID, task.CarID)

	assert.Equal(t, []car.ChangeKind{car.ChangeIngested}, h.notifier.kinds)
}

func TestIngestTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	first, err := h.svc.Ingest(context.Background(), Request{Text: demoText, Files: []images.File{photo()}})
	require.NoError(t, err)
	second, err := h.svc.Ingest(context.Background(), Request{Text: demoText, Files: []images.File{photo()}})
	require.NoError(t, err)

	assert.Equal(t, first.CarID, second.CarID)
	assert.True(t, second.Existing)
	assert.Len(t, h.tables.Rows("cars"), 1)
	// Images are not deduplicated across submissions. The fixed clock gives the
	// second upload the same storage URL, which is the only reason no row is added.
	assert.Zero(t, second.InsertedImages)
	assert.Len(t, h.tables.Rows("car_images"), 1)
}

func TestIngestRecordsColumnFallbackRetries(t *testing.T) {
	t.Parallel()

	h := newHarnessWithCars(t, true, legacyCarColumns)
	res, err := h.svc.Ingest(context.Background(), Request{Text: demoText, Files: []images.File{photo()}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)

	stored := h.tables.Rows("cars")
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Has(car.ColBrand))
	assert.Equal(t, "T-0001", car.StoredCarFromRow(stored[0]).StockNo)

	task := car.TaskFromRow(h.tables.Rows("ingest_tasks")[0])
	assert.Equal(t, car.TaskSuccess, task.Status)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, res.CarID, task.CarID)
}

func TestIngestFailedTaskKeepsRetryCount(t *testing.T) {
	t.Parallel()

	h := newHarnessWithCars(t, true, legacyCarColumns)
	h.blobs.FailPath("photo", errors.New("bucket missing"))

	res, err := h.svc.Ingest(context.Background(), Request{Text: demoText, Files: []images.File{photo()}})
	require.Error(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.NotEmpty(t, res.CarID)

	task := car.TaskFromRow(h.tables.Rows("ingest_tasks")[0])
	assert.Equal(t, car.TaskFailed, task.Status)
	assert.Equal(t, 2, task.RetryCount)
	assert.Contains(t, task.ErrorMessage, "bucket missing")
}

func TestIngestRejectsInvalidTextBeforeLedger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	_, err := h.svc.Ingest(context.Background(), Request{Text: "title: Demo Car\nprice: 100"})
	var validation *car.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "missing required field in description: year", validation.Error())
	assert.Empty(t, h.tables.Rows("ingest_tasks"))

	_, err = h.svc.Ingest(context.Background(), Request{Text: "   "})
	require.ErrorAs(t, err, &validation)
}

func TestIngestWithoutTaskTableWarns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	res, err := h.svc.Ingest(context.Background(), Request{Text: demoText})
	require.NoError(t, err)
	assert.Empty(t, res.TaskID)
	assert.Equal(t, "task logging disabled because table ingest_tasks does not exist", res.LoggingWarning)
	assert.Len(t, h.tables.Rows("cars"), 1)
}

func TestIngestImageFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.blobs.FailPath("photo", errors.New("bucket missing"))

	res, err := h.svc.Ingest(context.Background(), Request{Text: demoText, Files: []images.File{photo()}})
	var partial *car.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, car.CategoryUpload, car.CategoryOf(err))
	assert.Equal(t, res.CarID, partial.CarID)
	assert.NotEmpty(t, res.TaskID)

	task := car.TaskFromRow(h.tables.Rows("ingest_tasks")[0])
	assert.Equal(t, car.TaskFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "bucket missing")
	assert.Empty(t, h.notifier.kinds)
}

func TestIngestStorageFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.tables.FailNext(memory.OpInsert, "cars", errors.New("connection reset"))

	res, err := h.svc.Ingest(context.Background(), Request{Text: demoText})
	require.Error(t, err)
	assert.Empty(t, res.CarID)
	task := car.TaskFromRow(h.tables.Rows("ingest_tasks")[0])
	assert.Equal(t, car.TaskFailed, task.Status)
}

func TestNewServiceRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewService(Deps{})
	require.ErrorContains(t, err, "parser is required")
}
