package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appimages "github.com/bryanwahyu/medimage-analyzer/internal/application/images"
	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
	"github.com/bryanwahyu/medimage-analyzer/internal/middleware"
)

// multipart overhead allowed on top of the file limit
const formSlack = 1 << 20

// POST /api/v1/images/upload (multipart: file, description, patient_id, user_id)
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	if limit := r.opts.MaxUploadBytes; limit > 0 {
		if req.ContentLength > limit+formSlack {
			return fmt.Errorf("%w: Maximum size: %d bytes", domain.ErrTooLarge, limit)
		}
		req.Body = http.MaxBytesReader(w, req.Body, limit+formSlack)
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: Maximum size: %d bytes", domain.ErrTooLarge, r.opts.MaxUploadBytes)
		}
		return fmt.Errorf("%w: No filename provided", domain.ErrInvalidUpload)
	}
	defer file.Close()

	img, err := r.images.Upload(req.Context(), appimages.UploadCommand{
		Filename:    header.Filename,
		Content:     file,
		Description: req.FormValue("description"),
		PatientID:   req.FormValue("patient_id"),
		UploadedBy:  req.FormValue("user_id"),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, struct {
		*domain.Image
		Message string `json:"message"`
	}{img, "Image uploaded successfully"})
	return nil
}

func imageID(req *http.Request) (string, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateID("image_id", id); err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return id, nil
}

// GET /api/v1/images/{id}
func (r *Router) handleGetImage(w http.ResponseWriter, req *http.Request) error {
	id, err := imageID(req)
	if err != nil {
		return err
	}
	img, err := r.images.Get(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, img)
	return nil
}

// GET /api/v1/images/{id}/download
func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) error {
	id, err := imageID(req)
	if err != nil {
		return err
	}
	img, rc, err := r.images.Open(req.Context(), id)
	if err != nil {
		return err
	}
	defer rc.Close()

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Disposition", contentDisposition(img.Filename))
	if img.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(img.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// headers are gone; only log
		r.log.Warn("download interrupted", "image_id", id, "error", err)
	}
	return nil
}

// GET /api/v1/images?skip=&limit=&modality=&user_id=
func (r *Router) handleListImages(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	skip, limit := middleware.Pagination(q.Get("skip"), q.Get("limit"))
	list, err := r.images.List(req.Context(), domain.Filter{
		Modality:   q.Get("modality"),
		UploadedBy: q.Get("user_id"),
		Skip:       skip,
		Limit:      limit,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// DELETE /api/v1/images/{id}
func (r *Router) handleDeleteImage(w http.ResponseWriter, req *http.Request) error {
	id, err := imageID(req)
	if err != nil {
		return err
	}
	if err := r.images.Delete(req.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Image deleted successfully"})
	return nil
}
