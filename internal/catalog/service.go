// Package catalog serves the public car listing with a cache in front of the
// table store and a built-in demo inventory behind it.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/metrics"
)

// Config controls where listings come from.
type Config struct {
	CarsTable     string
	ImagesTable   string
	PublicBaseURL string
	Location      string
	SeedFallback  bool
	Limit         int
	RetryDelays   []time.Duration
}

var listableStatuses = []any{car.StatusActive, "published", car.StatusAvailable}

// Service reads listings.
type Service struct {
	store    car.TableStore
	cfg      Config
	cache    Cache
	resolver ImageResolver
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewService builds a Service. cache and logger may be nil.
func NewService(store car.TableStore, cfg Config, cache Cache, logger *zap.Logger) *Service {
	if cfg.CarsTable == "" {
		cfg.CarsTable = "cars"
	}
	if cfg.ImagesTable == "" {
		cfg.ImagesTable = "car_images"
	}
	if cfg.Location == "" {
		cfg.Location = "China"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = []time.Duration{250 * time.Millisecond, 700 * time.Millisecond}
	}
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		cache:    cache,
		resolver: ImageResolver{PublicBaseURL: cfg.PublicBaseURL},
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// ListActive returns every active listing, newest first.
func (s *Service) ListActive(ctx context.Context) ([]Listing, error) {
	var cached []Listing
	if s.cacheGet(ctx, listKey, &cached) {
		return cached, nil
	}

	listings, err := s.loadActive(ctx)
	if err != nil {
		if !s.cfg.SeedFallback {
			return nil, err
		}
		s.logger.Warn("catalog falling back to demo inventory", zap.Error(err))
		return SeedActive(), nil
	}
	if len(listings) == 0 && s.cfg.SeedFallback {
		return SeedActive(), nil
	}
	s.cacheSet(ctx, listKey, listings)
	return listings, nil
}

// Get returns one listing. Ids that are not UUIDs are looked up in the demo inventory.
func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		if l, ok := SeedByID(id); ok {
			return l, nil
		}
		return Listing{}, car.ErrNotFound
	}

	var cached Listing
	if s.cacheGet(ctx, carKey(id), &cached) {
		return cached, nil
	}

	var (
		rows []car.Row
		err  error
	)
	for attempt := 0; ; attempt++ {
		rows, err = s.store.Select(ctx, s.cfg.CarsTable, car.Query{Where: []car.Filter{car.Eq(car.ColID, id)}, Limit: 1})
		var transient *car.TransientError
		if err == nil || !errors.As(err, &transient) || attempt >= len(s.cfg.RetryDelays) {
			break
		}
		s.logger.Debug("retrying catalog read", zap.String("car_id", id), zap.Int("attempt", attempt+1), zap.Error(err))
		if serr := s.sleep(ctx, s.cfg.RetryDelays[attempt]); serr != nil {
			return Listing{}, serr
		}
	}
	if err != nil {
		if s.cfg.SeedFallback {
			if l, ok := SeedByID(id); ok {
				return l, nil
			}
		}
		return Listing{}, fmt.Errorf("load car %s: %w", id, err)
	}
	if len(rows) == 0 {
		return Listing{}, car.ErrNotFound
	}

	listing := normalize(rows[0], s.resolver, s.cfg.Location)
	if err := s.attachImages(ctx, []*Listing{&listing}); err != nil {
		s.logger.Warn("catalog images unavailable", zap.String("car_id", id), zap.Error(err))
	}
	s.cacheSet(ctx, carKey(id), listing)
	return listing, nil
}

// Invalidate drops the cached list and the cached entry for carID.
func (s *Service) Invalidate(ctx context.Context, carID string) error {
	keys := []string{listKey}
	if carID != "" {
		keys = append(keys, carKey(carID))
	}
	return s.cache.Delete(ctx, keys...)
}

func (s *Service) loadActive(ctx context.Context) ([]Listing, error) {
	rows, err := s.store.Select(ctx, s.cfg.CarsTable, car.Query{
		Where:   []car.Filter{car.In(car.ColStatus, listableStatuses...)},
		OrderBy: car.ColCreatedAt,
		Desc:    true,
		Limit:   s.cfg.Limit,
	})
	var mismatch *car.SchemaMismatchError
	if errors.As(err, &mismatch) {
		rows, err = s.store.Select(ctx, s.cfg.CarsTable, car.Query{Limit: s.cfg.Limit})
	}
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	if len(rows) == 0 {
		rows, err = s.store.Select(ctx, s.cfg.CarsTable, car.Query{Limit: s.cfg.Limit})
		if err != nil {
			return nil, fmt.Errorf("list cars: %w", err)
		}
	}

	all := make([]Listing, 0, len(rows))
	for _, row := range rows {
		all = append(all, normalize(row, s.resolver, s.cfg.Location))
	}
	ptrs := make([]*Listing, len(all))
	for i := range all {
		ptrs[i] = &all[i]
	}
	if err := s.attachImages(ctx, ptrs); err != nil {
		s.logger.Warn("catalog images unavailable", zap.Error(err))
	}

	active := all[:0]
	for _, l := range all {
		if l.Status == StatusActive {
			active = append(active, l)
		}
	}
	return active, nil
}

// attachImages replaces each listing's images with its car_images rows when it has any.
func (s *Service) attachImages(ctx context.Context, listings []*Listing) error {
	if len(listings) == 0 {
		return nil
	}
	ids := make([]any, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	rows, err := s.store.Select(ctx, s.cfg.ImagesTable, car.Query{
		Where:   []car.Filter{car.In(car.ColCarID, ids...)},
		OrderBy: car.ColSortOrder,
	})
	if err != nil {
		return err
	}
	byCar := map[string][]string{}
	for _, row := range rows {
		img := car.ImageFromRow(row)
		if img.URL == "" {
			continue
		}
		byCar[img.CarID] = append(byCar[img.CarID], s.resolver.Resolve(img.URL))
	}
	for _, l := range listings {
		if urls := byCar[l.ID]; len(urls) > 0 {
			l.Images = urls
		}
	}
	return nil
}

func (s *Service) cacheGet(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok || json.Unmarshal(raw, dst) != nil {
		metrics.ObserveCatalogCache(metrics.CacheMiss)
		return false
	}
	metrics.ObserveCatalogCache(metrics.CacheHit)
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
