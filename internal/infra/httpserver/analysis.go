package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	appanalysis "github.com/bryanwahyu/medimage-analyzer/internal/application/analysis"
	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/middleware"
)

type startAnalysisRequest struct {
	ImageID  string `json:"image_id"`
	ModelID  string `json:"model_id"`
	UserID   string `json:"user_id"`
	Priority string `json:"priority"`
}

type startAnalysisResponse struct {
	AnalysisID              string        `json:"analysis_id"`
	Status                  domain.Status `json:"status"`
	Message                 string        `json:"message"`
	EstimatedCompletionTime int           `json:"estimated_completion_time"`
	WebsocketURL            string        `json:"websocket_url"`
}

// POST /api/v1/analysis/start
// Body: {"image_id": "...", "model_id": "...", "user_id": "...", "priority": "normal"}
func (r *Router) handleStartAnalysis(w http.ResponseWriter, req *http.Request) error {
	var body startAnalysisRequest
	if err := decodeJSON(req, &body); err != nil {
		return err
	}
	if body.ImageID == "" || body.ModelID == "" {
		return fmt.Errorf("%w: image_id and model_id are required", errBadRequest)
	}
	if body.Priority == "" {
		body.Priority = "normal"
	}

	a, err := r.analyses.Start(req.Context(), appanalysis.StartCommand{
		ImageID:     body.ImageID,
		ModelID:     body.ModelID,
		RequestedBy: body.UserID,
		Priority:    body.Priority,
	})
	if err != nil {
		return err
	}

	client := body.UserID
	if client == "" {
		client = "guest"
	}
	writeJSON(w, http.StatusOK, startAnalysisResponse{
		AnalysisID:              string(a.ID),
		Status:                  a.Status,
		Message:                 "Analysis started successfully",
		EstimatedCompletionTime: estimatedCompletionSeconds,
		WebsocketURL:            "/ws/analysis/" + client,
	})
	return nil
}

func analysisID(req *http.Request) (domain.ID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateID("analysis_id", id); err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return domain.ID(id), nil
}

// GET /api/v1/analysis/{id}
func (r *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	a, err := r.analyses.Get(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, a)
	return nil
}

// GET /api/v1/analysis?skip=&limit=&status=&user_id=
func (r *Router) handleListAnalyses(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	skip, limit := middleware.Pagination(q.Get("skip"), q.Get("limit"))
	list, err := r.analyses.List(req.Context(), domain.Filter{
		Status:      domain.Status(q.Get("status")),
		RequestedBy: q.Get("user_id"),
		Skip:        skip,
		Limit:       limit,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/v1/analysis/models?active_only=true
func (r *Router) handleListModels(w http.ResponseWriter, req *http.Request) error {
	activeOnly := middleware.ParseBool(req.URL.Query().Get("active_only"), true)
	models, err := r.analyses.Models(req.Context(), activeOnly)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, models)
	return nil
}

// POST /api/v1/analysis/{id}/cancel
func (r *Router) handleCancelAnalysis(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	a, err := r.analyses.Cancel(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Analysis cancelled successfully",
		"analysis": a,
	})
	return nil
}

// DELETE /api/v1/analysis/{id}
func (r *Router) handleDeleteAnalysis(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	if err := r.analyses.Delete(req.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Analysis deleted successfully"})
	return nil
}

// POST /api/v1/analysis/{id}/report
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	rep, err := r.reports.Generate(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rep)
	return nil
}
