// Package ingest runs the car ingestion pipeline: parse the description,
// open a ledger run, store the car, attach images and close the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/cartext"
	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ledger"
	"github.com/neorise/storefront/internal/metrics"
	"github.com/neorise/storefront/internal/persist"
)

// ChangeNotifier is told about cars that changed.
type ChangeNotifier interface {
	CarChanged(ctx context.Context, kind car.ChangeKind, carID, stockNo string)
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Parser   *cartext.Parser
	Cars     *persist.CarRepository
	Images   *images.Reconciler
	Ledger   *ledger.Ledger
	Notifier ChangeNotifier
	Logger   *zap.Logger
}

// Service runs ingestion requests. One request is handled sequentially on the caller's goroutine.
type Service struct {
	parser   *cartext.Parser
	cars     *persist.CarRepository
	images   *images.Reconciler
	ledger   *ledger.Ledger
	notifier ChangeNotifier
	logger   *zap.Logger
}

// NewService validates deps and builds a Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Parser == nil:
		return nil, errors.New("ingest: parser is required")
	case d.Cars == nil:
		return nil, errors.New("ingest: car repository is required")
	case d.Images == nil:
		return nil, errors.New("ingest: image reconciler is required")
	case d.Ledger == nil:
		return nil, errors.New("ingest: ledger is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		parser:   d.Parser,
		cars:     d.Cars,
		images:   d.Images,
		ledger:   d.Ledger,
		notifier: d.Notifier,
		logger:   logger,
	}, nil
}

// Request is one submission: a free-text description plus image files in display order.
type Request struct {
	Text  string
	Files []images.File
}

// Result describes the outcome of Ingest. TaskID and LoggingWarning are
// populated on failure as well.
type Result struct {
	CarID          string `json:"car_id,omitempty"`
	StockNo        string `json:"stock_no,omitempty"`
	Existing       bool   `json:"existing"`
	InsertedImages int    `json:"inserted_car_images"`
	UploadedFiles  int    `json:"uploaded_image_files"`
	Retries        int    `json:"retry_count"`
	TaskID         string `json:"task_id,omitempty"`
	LoggingWarning string `json:"logging_warning,omitempty"`
}

// Ingest parses, stores and links one car. Parsing happens before the ledger
// run opens, so invalid input never leaves a task row behind.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		metrics.ObserveIngestRun(metrics.OutcomeInvalid)
		return Result{}, car.Invalid("car_text", "car_text is required")
	}
	rec, err := s.parser.Parse(req.Text)
	if err != nil {
		metrics.ObserveIngestRun(metrics.OutcomeInvalid)
		return Result{}, err
	}

	run := s.ledger.Begin(ctx)
	res := Result{TaskID: run.ID(), StockNo: rec.StockNo}

	inserted, err := s.cars.InsertCar(ctx, rec, func(n int) {
		res.Retries = n
		run.SetRetries(ctx, n)
	})
	if err != nil {
		return s.fail(ctx, run, res, fmt.Errorf("store car %s: %w", rec.StockNo, err))
	}
	res.CarID = inserted.Car.ID
	res.Existing = inserted.Existing
	if inserted.Existing && inserted.Car.StockNo != "" {
		res.StockNo = inserted.Car.StockNo
	}

	files := images.SupportedOnly(req.Files)
	res.UploadedFiles = len(files)
	if len(files) > 0 {
		linked, err := s.images.Append(ctx, res.CarID, files)
		if err != nil {
			return s.fail(ctx, run, res, &car.PartialWriteError{CarID: res.CarID, Err: err})
		}
		res.InsertedImages = linked.Inserted
	}

	run.Succeed(ctx, res.CarID, res.StockNo)
	res.LoggingWarning = run.Warning()
	metrics.ObserveIngestRun(metrics.OutcomeSuccess)
	if s.notifier != nil {
		s.notifier.CarChanged(ctx, car.ChangeIngested, res.CarID, res.StockNo)
	}
	s.logger.Info("car ingested",
		zap.String("car_id", res.CarID),
		zap.String("stock_no", res.StockNo),
		zap.Bool("existing", res.Existing),
		zap.Int("images", res.InsertedImages),
		zap.String("task_id", res.TaskID))
	return res, nil
}

func (s *Service) fail(ctx context.Context, run *ledger.Run, res Result, err error) (Result, error) {
	run.Fail(ctx, err)
	res.LoggingWarning = run.Warning()
	metrics.ObserveIngestRun(metrics.OutcomeFailed)
	s.logger.Error("car ingestion failed",
		zap.String("task_id", res.TaskID),
		zap.String("car_id", res.CarID),
		zap.String("category", string(car.CategoryOf(err))),
		zap.Error(err))
	return res, err
}
