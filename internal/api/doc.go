// Package api hosts the HTTP server, middleware and JSON handlers of the
// storefront. Notable routes:
//   - POST /api/ingest-car to ingest a free-text car description with images.
//   - /api/admin/... for listing, editing, hiding and re-ordering car images.
//   - GET /api/cars and /api/cars/{id} for the public catalog.
//   - /api/favorites for per-visitor favorites.
//   - GET /healthz, /readyz for Kubernetes probes and GET /metrics for Prometheus.
//
// Admin routes need the admin token (X-Admin-Token header or admin_token
// cookie) and are rate limited per client IP.
//
// Every error response is a JSON object {"error": ..., "hint": ...}.
package api
