package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/config"
	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ingest"
)

const demoText = "title: Demo Car\nprice: $10,000\nyear: 2020\nmileage: 1,000\nengine: 2.0L\ntrans: Automatic\nfuel: Gasoline\nstatus: available\nstock_no: T-0001"

func testConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{AdminToken: "secret"},
		Database: config.DatabaseConfig{
			CarsTable:   "cars",
			ImagesTable: "car_images",
			TasksTable:  "ingest_tasks",
		},
		Storage: config.StorageConfig{Backend: config.BackendMemory, Prefix: "car"},
		Ingest:  config.IngestConfig{MaxUploadMB: 8},
		Ledger:  config.LedgerConfig{SweepSpec: "@every 10m", StaleAfter: 30 * time.Minute},
		Cache:   config.CacheConfig{TTL: time.Minute},
		Catalog: config.CatalogConfig{Location: "China", Limit: 100},
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildInMemoryServesIngestedCars(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.Equal(t, http.StatusOK, get(t, app.Handler(), "/healthz").Code)
	require.Equal(t, http.StatusOK, get(t, app.Handler(), "/readyz").Code)

	res, err := app.Ingest().Ingest(context.Background(), ingest.Request{Text: demoText})
	require.NoError(t, err)
	require.NotEmpty(t, res.CarID)

	rec := get(t, app.Handler(), "/api/cars")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Cars []struct {
			ID string `json:"id"`
		} `json:"cars"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Cars, 1)
	assert.Equal(t, res.CarID, body.Cars[0].ID)

	swept, err := app.Janitor().SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestBuildWithRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Cache.RedisURL = "redis://" + mr.Addr()

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	req := httptest.NewRequest(http.MethodPut, "/api/favorites", strings.NewReader(`{"ids":["NR-1001"]}`))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "storefront:favorites:"))

	require.Equal(t, http.StatusOK, get(t, app.Handler(), "/readyz").Code)
	mr.Close()
	rec = get(t, app.Handler(), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestBuildFailsWhenRedisIsUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Cache.RedisURL = "redis://" + addr
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis init failed")
}

func TestBuildLocalStorageServesUploads(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = t.TempDir()

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	res, err := app.Ingest().Ingest(context.Background(), ingest.Request{
		Text:  demoText,
		Files: []images.File{{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.InsertedImages)

	rec := get(t, app.Handler(), "/api/admin/car-images?car_id="+res.CarID)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Images []struct {
			ImageURL string `json:"image_url"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Images, 1)
	require.True(t, strings.HasPrefix(body.Images[0].ImageURL, "/uploads/car/"), body.Images[0].ImageURL)

	rec = get(t, app.Handler(), body.Images[0].ImageURL)
	require.Equal(t, http.StatusOK, rec.Code)
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestRunStopsWhenContextIsCanceled(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
