// Package images keeps the ordered image list of a car in sync with what an
// admin submits: kept URLs, freshly uploaded files and their final order.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/metrics"
)

// Descriptor prefixes accepted in an ordered item list.
const (
	PrefixExisting = "existing:"
	PrefixNew      = "new:"
)

// Reconciliation outcomes reported to metrics.
const (
	outcomeChanged   = "changed"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
)

// Config names the association table and the storage prefix for uploads.
type Config struct {
	Table  string
	Prefix string
}

// Reconciler rewrites car image associations.
// Reconciliations for the same car must not run concurrently; callers serialize them.
type Reconciler struct {
	store  car.TableStore
	blobs  car.BlobStore
	table  string
	prefix string
	clock  car.Clock
	logger *zap.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(store car.TableStore, blobs car.BlobStore, cfg Config, clock car.Clock, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "car"
	}
	return &Reconciler{
		store:  store,
		blobs:  blobs,
		table:  cfg.Table,
		prefix: prefix,
		clock:  clock,
		logger: logger,
	}
}

// Result summarizes a reconciliation.
type Result struct {
	// URLs is the image list of the car after the call.
	URLs []string
	// Inserted counts URLs that were not associated with the car before.
	Inserted int
	Uploaded int
	Changed  bool
}

// Current returns the stored images of carID ordered by sort order.
func (r *Reconciler) Current(ctx context.Context, carID string) ([]car.Image, error) {
	rows, err := r.store.Select(ctx, r.table, car.Query{
		Where:   []car.Filter{car.Eq(car.ColCarID, carID)},
		OrderBy: car.ColSortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s for car %s: %w", r.table, carID, err)
	}
	out := make([]car.Image, 0, len(rows))
	for _, row := range rows {
		img := car.ImageFromRow(row)
		if img.URL == "" {
			continue
		}
		out = append(out, img)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// Append adds files after the images carID already has.
func (r *Reconciler) Append(ctx context.Context, carID string, files []File) (Result, error) {
	current, err := r.Current(ctx, carID)
	if err != nil {
		return Result{}, err
	}
	descriptors := make([]string, 0, len(current)+len(files))
	for _, img := range current {
		descriptors = append(descriptors, PrefixExisting+img.URL)
	}
	supported := SupportedOnly(files)
	for i := range supported {
		descriptors = append(descriptors, fmt.Sprintf("%s%d", PrefixNew, i))
	}
	return r.reconcile(ctx, carID, descriptors, FileSet{Positional: supported}, current)
}

// Reconcile makes the ordered descriptors the image list of carID.
// existing:<url> keeps a URL the car already has; new:<id> uploads
// files.Named[id] or, failing that, the next positional file.
func (r *Reconciler) Reconcile(ctx context.Context, carID string, descriptors []string, files FileSet) (Result, error) {
	current, err := r.Current(ctx, carID)
	if err != nil {
		return Result{}, err
	}
	return r.reconcile(ctx, carID, descriptors, files, current)
}

type step struct {
	url  string
	file *File
}

func (r *Reconciler) reconcile(ctx context.Context, carID string, descriptors []string, files FileSet, current []car.Image) (Result, error) {
	plan, err := planSteps(descriptors, files, current)
	if err != nil {
		metrics.ObserveImageReconciliation(outcomeFailed)
		return Result{}, err
	}

	var res Result
	millis := r.clock.Now().UnixMilli()
	urls := make([]string, 0, len(plan))
	for _, s := range plan {
		if s.file == nil {
			urls = append(urls, s.url)
			continue
		}
		res.Uploaded++
		objectPath := path.Join(r.prefix, carID, StorageName(s.file.Name, millis, res.Uploaded))
		url, err := r.blobs.PutObject(ctx, objectPath, s.file.contentType(), bytes.NewReader(s.file.Data))
		if err != nil {
			metrics.ObserveImagesUploaded(res.Uploaded - 1)
			metrics.ObserveImageReconciliation(outcomeFailed)
			return Result{}, &car.UploadError{File: s.file.Name, Err: err}
		}
		urls = append(urls, url)
	}
	metrics.ObserveImagesUploaded(res.Uploaded)

	res.URLs = dedupe(urls)
	previous := make([]string, len(current))
	for i, img := range current {
		previous[i] = img.URL
	}
	if len(res.URLs) == 0 || slices.Equal(res.URLs, previous) {
		if len(res.URLs) == 0 {
			res.URLs = previous
		}
		metrics.ObserveImageReconciliation(outcomeUnchanged)
		return res, nil
	}

	if err := r.commit(ctx, carID, res.URLs, previous); err != nil {
		metrics.ObserveImageReconciliation(outcomeFailed)
		return Result{}, err
	}
	res.Inserted = countAdded(res.URLs, previous)
	res.Changed = true
	metrics.ObserveImageReconciliation(outcomeChanged)
	r.logger.Info("car images replaced",
		zap.String("car_id", carID),
		zap.Int("images", len(res.URLs)),
		zap.Int("uploaded", res.Uploaded))
	return res, nil
}

func planSteps(descriptors []string, files FileSet, current []car.Image) ([]step, error) {
	known := make(map[string]bool, len(current))
	for _, img := range current {
		known[img.URL] = true
	}
	positional := SupportedOnly(files.Positional)
	next := 0
	plan := make([]step, 0, len(descriptors))
	for _, raw := range descriptors {
		item := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(item, PrefixExisting):
			url := strings.TrimSpace(strings.TrimPrefix(item, PrefixExisting))
			if url != "" && known[url] {
				plan = append(plan, step{url: url})
			}
		case strings.HasPrefix(item, PrefixNew):
			id := strings.TrimSpace(strings.TrimPrefix(item, PrefixNew))
			f, ok := files.Named[id]
			if !ok && next < len(positional) {
				f, ok = positional[next], true
				next++
			}
			if !ok {
				return nil, car.Invalid("images", "missing upload file for %s", item)
			}
			if !f.Supported() {
				continue
			}
			plan = append(plan, step{file: &f})
		}
	}
	return plan, nil
}

func (r *Reconciler) commit(ctx context.Context, carID string, urls, previous []string) error {
	match := car.Eq(car.ColCarID, carID)
	rows := imageRows(carID, urls)
	if replacer, ok := r.store.(car.RowReplacer); ok {
		if _, err := replacer.ReplaceRows(ctx, r.table, match, rows); err != nil {
			return fmt.Errorf("replace %s for car %s: %w", r.table, carID, err)
		}
		return nil
	}

	if _, err := r.store.Delete(ctx, r.table, match); err != nil {
		return fmt.Errorf("clear %s for car %s: %w", r.table, carID, err)
	}
	if _, err := r.store.Insert(ctx, r.table, rows); err != nil {
		writeErr := fmt.Errorf("write %s for car %s: %w", r.table, carID, err)
		if len(previous) == 0 {
			return writeErr
		}
		if _, restoreErr := r.store.Insert(ctx, r.table, imageRows(carID, previous)); restoreErr != nil {
			r.logger.Error("restore previous car images failed",
				zap.String("car_id", carID),
				zap.Error(restoreErr))
			return errors.Join(writeErr, fmt.Errorf("restore previous images: %w", restoreErr))
		}
		return writeErr
	}
	return nil
}

func imageRows(carID string, urls []string) []car.Row {
	rows := make([]car.Row, len(urls))
	for i, url := range urls {
		rows[i] = car.Image{CarID: carID, URL: url, SortOrder: i}.Row()
	}
	return rows
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func countAdded(urls, previous []string) int {
	had := make(map[string]bool, len(previous))
	for _, u := range previous {
		had[u] = true
	}
	n := 0
	for _, u := range urls {
		if !had[u] {
			n++
		}
	}
	return n
}
