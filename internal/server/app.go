// Package server builds the storefront application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/api"
	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/cartext"
	"github.com/neorise/storefront/internal/catalog"
	"github.com/neorise/storefront/internal/clock/system"
	"github.com/neorise/storefront/internal/config"
	"github.com/neorise/storefront/internal/favorites"
	"github.com/neorise/storefront/internal/id/uuid"
	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ingest"
	"github.com/neorise/storefront/internal/ledger"
	"github.com/neorise/storefront/internal/logging"
	"github.com/neorise/storefront/internal/persist"
	"github.com/neorise/storefront/internal/publisher"
	memorypublisher "github.com/neorise/storefront/internal/publisher/memory"
	gcppublisher "github.com/neorise/storefront/internal/publisher/pubsub"
	gcsstorage "github.com/neorise/storefront/internal/storage/gcs"
	localstorage "github.com/neorise/storefront/internal/storage/local"
	memorystorage "github.com/neorise/storefront/internal/storage/memory"
	pgstore "github.com/neorise/storefront/internal/storage/postgres"
	"github.com/neorise/storefront/internal/storage/redisstore"
)

// memoryBlobBaseURL prefixes image URLs produced by the in-memory blob store.
const memoryBlobBaseURL = "memory://images"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  car.Clock
	ids    car.IDGenerator

	tables  car.TableStore
	blobs   car.BlobStore
	uploads http.Handler
	ready   map[string]api.ReadinessCheck

	pgStore         *pgstore.TableStore
	redisClient     *redis.Client
	storageClient   *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher

	ingest    *ingest.Service
	ledger    *ledger.Ledger
	janitor   *ledger.Janitor
	catalog   *catalog.Service
	apiServer *api.Server
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
// A nil logger builds one from cfg.Logging.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		ready:  map[string]api.ReadinessCheck{},
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Bool("redis", cfg.Cache.RedisURL != ""))

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	kv, cache, err := app.setupCache(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupServices(kv, cache, pub); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	db := a.cfg.Database
	if db.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory tables")
		mem := memorystorage.NewTableStore(a.ids, a.clock)
		mem.CreateTable(db.CarsTable, memorystorage.TableSpec{Unique: []string{car.ColStockNo}})
		mem.CreateTable(db.ImagesTable, memorystorage.TableSpec{})
		mem.CreateTable(db.TasksTable, memorystorage.TableSpec{})
		a.tables = mem
		return nil
	}
	store, err := pgstore.NewTableStore(ctx, pgstore.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres table store init failed: %w", err)
	}
	a.pgStore = store
	a.tables = store
	a.ready["postgres"] = store.Ping
	a.logger.Info("postgres table store initialized",
		zap.String("cars_table", db.CarsTable),
		zap.String("images_table", db.ImagesTable),
		zap.String("tasks_table", db.TasksTable))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	st := a.cfg.Storage
	switch st.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", st.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        st.Bucket,
			PublicBaseURL: st.PublicBaseURL,
			CacheControl:  "public, max-age=31536000",
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", st.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{
			BaseDir:       st.Local.BaseDir,
			PublicBaseURL: st.PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.uploads = blobs.Handler()
	default:
		a.logger.Info("using in-memory storage backend")
		base := st.PublicBaseURL
		if base == "" {
			base = memoryBlobBaseURL
		}
		a.blobs = memorystorage.NewBlobStore(base)
	}
	return nil
}

func (a *App) setupCache(ctx context.Context) (favorites.KV, catalog.Cache, error) {
	if a.cfg.Cache.RedisURL == "" {
		a.logger.Warn("no redis configured, favorites kept in memory and catalog cache disabled")
		return favorites.NewMemoryKV(), catalog.NopCache{}, nil
	}
	client, err := redisstore.Connect(ctx, a.cfg.Cache.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redisClient = client
	a.ready["redis"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	cache, err := catalog.NewRedisCache(client, catalog.DefaultCachePrefix, a.cfg.Cache.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog cache init failed: %w", err)
	}
	a.logger.Info("redis initialized", zap.Duration("catalog_ttl", a.cfg.Cache.TTL))
	return favorites.NewRedisKV(client, favorites.DefaultRedisPrefix), cache, nil
}

func (a *App) setupPublisher(ctx context.Context) (car.Publisher, error) {
	ps := a.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher, err = gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName))
	return a.pubsubPublisher, nil
}

func (a *App) setupServices(kv favorites.KV, cache catalog.Cache, pub car.Publisher) error {
	db := a.cfg.Database
	a.catalog = catalog.NewService(a.tables, catalog.Config{
		CarsTable:     db.CarsTable,
		ImagesTable:   db.ImagesTable,
		PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		Location:      a.cfg.Catalog.Location,
		SeedFallback:  a.cfg.Catalog.SeedFallback,
		Limit:         a.cfg.Catalog.Limit,
	}, cache, a.logger.Named("catalog"))

	notifier := publisher.NewNotifier(pub, a.cfg.PubSub.TopicName, a.catalog, a.clock, a.logger.Named("notifier"))
	cars := persist.NewCarRepository(a.tables, db.CarsTable, a.logger.Named("persist"))
	reconciler := images.NewReconciler(a.tables, a.blobs, images.Config{
		Table:  db.ImagesTable,
		Prefix: a.cfg.Storage.Prefix,
	}, a.clock, a.logger.Named("images"))
	a.ledger = ledger.New(a.tables, db.TasksTable, a.clock, a.logger.Named("ledger"))
	a.janitor = ledger.NewJanitor(a.ledger, ledger.JanitorConfig{
		Spec:       a.cfg.Ledger.SweepSpec,
		StaleAfter: a.cfg.Ledger.StaleAfter,
	})

	var err error
	a.ingest, err = ingest.NewService(ingest.Deps{
		Parser:   cartext.NewParser(cartext.WithClock(a.clock)),
		Cars:     cars,
		Images:   reconciler,
		Ledger:   a.ledger,
		Notifier: notifier,
		Logger:   a.logger.Named("ingest"),
	})
	if err != nil {
		return fmt.Errorf("ingest service init failed: %w", err)
	}

	a.apiServer, err = api.NewServer(api.Deps{
		Ingest:    a.ingest,
		Cars:      cars,
		Images:    reconciler,
		Catalog:   a.catalog,
		Favorites: favorites.NewStore(kv),
		Notifier:  notifier,
		IDs:       a.ids,
		Ready:     a.ready,
		Uploads:   a.uploads,
		Logger:    a.logger.Named("api"),
	}, api.Options{
		AdminToken:     a.cfg.Auth.AdminToken,
		CookieSecure:   a.cfg.Auth.CookieSecure,
		MaxUploadBytes: a.cfg.MaxUploadBytes(),
		AdminRPS:       a.cfg.Auth.RateLimitRPS,
		AdminBurst:     a.cfg.Auth.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	if a.cfg.Auth.AdminToken == "" {
		a.logger.Warn("auth.admin_token is empty, admin endpoints will fail until it is set")
	}
	return nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Ingest returns the ingestion service for out-of-band imports.
func (a *App) Ingest() *ingest.Service {
	return a.ingest
}

// Janitor returns the ledger janitor.
func (a *App) Janitor() *ledger.Janitor {
	return a.janitor
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the application and blocks until the context is canceled.
// The caller still owns Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.janitor.Start(ctx); err != nil {
		return fmt.Errorf("start ledger janitor: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.janitor.Stop()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every external resource.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if err := logging.Sync(a.logger); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redisClient = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}
