package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/images"
)

const (
	actionUpdate    = "update"
	actionDownShelf = "down_shelf"

	specsNotSavedWarning = "Parameter table was not saved because the cars table has no specs_json column."
	specsNotSavedHint    = "Add a specs_json jsonb column to the cars table, then retry the edit."
)

func (s *Server) listAdminCars(w http.ResponseWriter, r *http.Request) {
	cars, err := s.deps.Cars.ListCars(r.Context(), adminCarsLimit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cars": cars})
}

type patchCarRequest struct {
	CarID   string         `json:"car_id"`
	Action  string         `json:"action"`
	Updates map[string]any `json:"updates"`
}

type patchCarResponse struct {
	Car        car.StoredCar `json:"car"`
	Action     string        `json:"action"`
	Done       bool          `json:"done"`
	SpecsSaved bool          `json:"specs_saved"`
	Warning    string        `json:"warning,omitempty"`
	Hint       string        `json:"hint,omitempty"`
}

func (s *Server) patchAdminCar(w http.ResponseWriter, r *http.Request) {
	var req patchCarRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "Send a JSON body with car_id, action and updates.")
		return
	}
	carID := strings.TrimSpace(req.CarID)
	if carID == "" {
		writeError(w, http.StatusBadRequest, "car_id is required", "Provide a valid car_id from the admin cars list.")
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action == "" {
		action = actionUpdate
	}

	switch action {
	case actionUpdate:
		updates, err := car.SanitizeUpdates(req.Updates)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		out, err := s.deps.Cars.UpdateCar(r.Context(), carID, updates)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		resp := patchCarResponse{Car: out.Car, Action: action, Done: true, SpecsSaved: true}
		if out.SpecsDropped {
			resp.SpecsSaved = false
			resp.Warning = specsNotSavedWarning
			resp.Hint = specsNotSavedHint
			s.logger.Warn("car specs not saved", zap.String("car_id", out.Car.ID))
		}
		s.notify(r.Context(), car.ChangeUpdated, out.Car.ID, out.Car.StockNo)
		writeJSON(w, http.StatusOK, resp)
	case actionDownShelf:
		hidden, err := s.deps.Cars.HideCar(r.Context(), carID)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.notify(r.Context(), car.ChangeHidden, hidden.ID, hidden.StockNo)
		writeJSON(w, http.StatusOK, patchCarResponse{Car: hidden, Action: action, Done: true, SpecsSaved: true})
	default:
		writeError(w, http.StatusBadRequest, "invalid action", "Use action=update or action=down_shelf.")
	}
}

type imageEntry struct {
	ImageURL  string `json:"image_url"`
	SortOrder int    `json:"sort_order"`
}

func (s *Server) getCarImages(w http.ResponseWriter, r *http.Request) {
	carID := strings.TrimSpace(r.URL.Query().Get("car_id"))
	if carID == "" {
		writeError(w, http.StatusBadRequest, "car_id is required", "Pass ?car_id=<id> in the request query.")
		return
	}
	current, err := s.deps.Images.Current(r.Context(), carID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	entries := make([]imageEntry, 0, len(current))
	for _, img := range current {
		entries = append(entries, imageEntry{ImageURL: img.URL, SortOrder: img.SortOrder})
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": entries, "image_count": len(entries)})
}

type carImagesResponse struct {
	Done       bool     `json:"done"`
	CarID      string   `json:"car_id"`
	ImageCount int      `json:"image_count"`
	Images     []string `json:"images"`
	Uploaded   int      `json:"uploaded"`
	Changed    bool     `json:"changed"`
}

func (s *Server) postCarImages(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer s.removeMultipart(r)
	carID := strings.TrimSpace(r.FormValue("car_id"))
	if carID == "" {
		writeError(w, http.StatusBadRequest, "car_id is required", "Provide car_id in the form data.")
		return
	}
	descriptors := parseOrderedItems(r.FormValue("ordered_items"))
	if len(descriptors) == 0 {
		writeError(w, http.StatusBadRequest, "ordered_items is required", "Provide ordered_items as a JSON array in the form data.")
		return
	}

	set := images.FileSet{Named: map[string]images.File{}}
	for field := range r.MultipartForm.File {
		id, ok := strings.CutPrefix(field, "file_")
		if !ok || id == "" {
			continue
		}
		files, err := formFiles(r.MultipartForm, field)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		if len(files) > 0 {
			set.Named[id] = files[0]
		}
	}
	positional, err := formFiles(r.MultipartForm, "images", "images[]")
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	set.Positional = images.SupportedOnly(positional)

	res, err := s.deps.Images.Reconcile(r.Context(), carID, descriptors, set)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if res.Changed {
		s.notify(r.Context(), car.ChangeImagesChanged, carID, "")
	}
	writeJSON(w, http.StatusOK, carImagesResponse{
		Done:       true,
		CarID:      carID,
		ImageCount: len(res.URLs),
		Images:     res.URLs,
		Uploaded:   res.Uploaded,
		Changed:    res.Changed,
	})
}

// parseOrderedItems decodes a JSON array and keeps its non-blank strings.
func parseOrderedItems(raw string) []string {
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
