package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ingest"
)

type ingestResponse struct {
	ingest.Result
	Done bool `json:"done"`
}

type ingestFailure struct {
	Error          string `json:"error"`
	Hint           string `json:"hint"`
	TaskID         string `json:"task_id,omitempty"`
	LoggingWarning string `json:"logging_warning,omitempty"`
}

func (s *Server) ingestCar(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer s.removeMultipart(r)
	files, err := formFiles(r.MultipartForm, "images", "images[]")
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	res, err := s.deps.Ingest.Ingest(r.Context(), ingest.Request{
		Text:  r.FormValue("car_text"),
		Files: files,
	})
	if err != nil {
		status := s.logFailure(r, err)
		writeJSON(w, status, ingestFailure{
			Error:          err.Error(),
			Hint:           car.Hint(err),
			TaskID:         res.TaskID,
			LoggingWarning: res.LoggingWarning,
		})
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Result: res, Done: true})
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return car.Invalid("images", "upload exceeds %d bytes", tooLarge.Limit)
		}
		return car.Invalid("form", "expected multipart/form-data: %v", err)
	}
	return nil
}

// removeMultipart drops the temp files ParseMultipartForm spilled to disk.
// Handlers receive a request derived by the router, so net/http never
// sees this form.
func (s *Server) removeMultipart(r *http.Request) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		s.logger.Warn("remove multipart temp files", zap.Error(err))
	}
}

// formFiles reads every file part under the given field names, in order.
func formFiles(form *multipart.Form, fields ...string) ([]images.File, error) {
	if form == nil {
		return nil, nil
	}
	var out []images.File
	for _, field := range fields {
		for _, fh := range form.File[field] {
			f, err := readFile(fh)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func readFile(fh *multipart.FileHeader) (images.File, error) {
	src, err := fh.Open()
	if err != nil {
		return images.File{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return images.File{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return images.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
