package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/favorites"
)

const (
	visitorCookieName = "visitor_id"
	visitorCookieTTL  = 365 * 24 * time.Hour
)

func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	listings, err := s.deps.Catalog.ListActive(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cars": listings})
}

func (s *Server) getCatalogCar(w http.ResponseWriter, r *http.Request) {
	listing, err := s.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, car.ErrNotFound) {
		writeError(w, http.StatusNotFound, "car not found", "Check the car id; it may have been hidden or sold.")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"car": listing})
}

type favoritesBody struct {
	IDs []string `json:"ids"`
}

func (s *Server) getFavorites(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.visitorID(w, r)
	if !ok {
		return
	}
	ids, err := s.deps.Favorites.Get(r.Context(), owner)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoritesBody{IDs: ids})
}

func (s *Server) putFavorites(w http.ResponseWriter, r *http.Request) {
	var body favoritesBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", `Send {"ids": ["<car id>", ...]}.`)
		return
	}
	owner, ok := s.visitorID(w, r)
	if !ok {
		return
	}
	ids, err := s.deps.Favorites.Set(r.Context(), owner, body.IDs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoritesBody{IDs: ids})
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	carID := strings.TrimSpace(chi.URLParam(r, "car_id"))
	owner, ok := s.visitorID(w, r)
	if !ok {
		return
	}
	on, err := s.deps.Favorites.Toggle(r.Context(), owner, carID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"car_id": carID, "favorite": on})
}

// visitorID returns the visitor cookie, issuing a new one on first visit.
func (s *Server) visitorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if c, err := r.Cookie(visitorCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), true
	}
	if s.deps.IDs == nil {
		s.writeFailure(w, r, favorites.ErrOwnerRequired)
		return "", false
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.writeFailure(w, r, err)
		return "", false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, true
}
