package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/catalog"
	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ingest"
	"github.com/neorise/storefront/internal/metrics"
	"github.com/neorise/storefront/internal/persist"
	"github.com/neorise/storefront/internal/policy/ratelimit"
)

const (
	requestTimeout   = 60 * time.Second
	adminCarsLimit   = 200
	defaultMaxUpload = 64 << 20
)

// Ingester runs the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// CarAdmin reads and edits stored cars.
type CarAdmin interface {
	ListCars(ctx context.Context, limit int) ([]car.StoredCar, error)
	UpdateCar(ctx context.Context, id string, updates car.Row) (persist.UpdateOutcome, error)
	HideCar(ctx context.Context, id string) (car.StoredCar, error)
}

// ImageEditor reads and rewrites the ordered image list of a car.
type ImageEditor interface {
	Current(ctx context.Context, carID string) ([]car.Image, error)
	Reconcile(ctx context.Context, carID string, descriptors []string, files images.FileSet) (images.Result, error)
}

// Catalog serves public listings.
type Catalog interface {
	ListActive(ctx context.Context) ([]catalog.Listing, error)
	Get(ctx context.Context, id string) (catalog.Listing, error)
}

// Favorites stores visitor favorites.
type Favorites interface {
	Get(ctx context.Context, owner string) ([]string, error)
	Set(ctx context.Context, owner string, ids []string) ([]string, error)
	Toggle(ctx context.Context, owner, carID string) (bool, error)
}

// ReadinessCheck reports whether a backing service is usable.
type ReadinessCheck func(ctx context.Context) error

// Options carries request-independent settings.
type Options struct {
	AdminToken     string
	CookieSecure   bool
	MaxUploadBytes int64
	// AdminRPS limits admin requests per client IP. Zero disables limiting.
	AdminRPS   float64
	AdminBurst int
}

// Deps bundles the collaborators of a Server. Ingest, Cars, Images, Catalog
// and Favorites are required; the rest may be nil.
type Deps struct {
	Ingest    Ingester
	Cars      CarAdmin
	Images    ImageEditor
	Catalog   Catalog
	Favorites Favorites
	Notifier  ingest.ChangeNotifier
	IDs       car.IDGenerator
	Ready     map[string]ReadinessCheck
	// Uploads, when set, is mounted under /uploads to serve locally stored images.
	Uploads http.Handler
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the storefront services.
type Server struct {
	router  chi.Router
	deps    Deps
	opts    Options
	logger  *zap.Logger
	limiter *ratelimit.Limiter
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) (*Server, error) {
	switch {
	case deps.Ingest == nil:
		return nil, errors.New("api: ingest service is required")
	case deps.Cars == nil:
		return nil, errors.New("api: car repository is required")
	case deps.Images == nil:
		return nil, errors.New("api: image reconciler is required")
	case deps.Catalog == nil:
		return nil, errors.New("api: catalog is required")
	case deps.Favorites == nil:
		return nil, errors.New("api: favorites store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	s := &Server{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		limiter: ratelimit.New(ratelimit.Config{RPS: opts.AdminRPS, Burst: opts.AdminBurst}),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	if deps.Uploads != nil {
		r.Handle("/uploads/*", deps.Uploads)
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))

		r.Route("/api", func(r chi.Router) {
			r.Get("/cars", s.listCatalog)
			r.Get("/cars/{id}", s.getCatalogCar)

			r.Get("/favorites", s.getFavorites)
			r.Put("/favorites", s.putFavorites)
			r.Post("/favorites/{car_id}/toggle", s.toggleFavorite)

			r.Delete("/admin/session", s.deleteSession)

			r.Group(func(r chi.Router) {
				r.Use(s.throttleAdmin)
				r.Post("/admin/session", s.createSession)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.throttleAdmin)
				r.Use(s.requireAdmin)
				r.Post("/ingest-car", s.ingestCar)
				r.Get("/admin/cars", s.listAdminCars)
				r.Patch("/admin/cars", s.patchAdminCar)
				r.Get("/admin/car-images", s.getCarImages)
				r.Post("/admin/car-images", s.postCarImages)
			})
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) notify(ctx context.Context, kind car.ChangeKind, carID, stockNo string) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.CarChanged(ctx, kind, carID, stockNo)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error", "Review server logs.")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out","hint":"Retry with the same stock_no; ingestion is idempotent."}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg, hint string) {
	writeJSON(w, status, errorBody{Error: msg, Hint: hint})
}

type errorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint"`
}

// statusFor maps a pipeline error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, car.ErrAdminTokenMissing):
		return http.StatusInternalServerError
	case errors.Is(err, car.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, car.ErrNotFound):
		return http.StatusNotFound
	}
	switch car.CategoryOf(err) {
	case car.CategoryValidation:
		return http.StatusBadRequest
	case car.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure renders err with its category hint.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, s.logFailure(r, err), err.Error(), car.Hint(err))
}

// logFailure logs server-side failures and returns the status to send.
func (s *Server) logFailure(r *http.Request, err error) int {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("category", string(car.CategoryOf(err))),
			zap.Error(err))
	}
	return status
}
