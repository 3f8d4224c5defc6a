package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/medimage-analyzer/internal/application/analysis"
	appimages "github.com/bryanwahyu/medimage-analyzer/internal/application/images"
	appreport "github.com/bryanwahyu/medimage-analyzer/internal/application/report"
	domai "github.com/bryanwahyu/medimage-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
	"github.com/bryanwahyu/medimage-analyzer/internal/middleware"
	"github.com/bryanwahyu/medimage-analyzer/internal/realtime"
)

// estimatedCompletionSeconds is what start responses promise clients.
const estimatedCompletionSeconds = 60

// Services are the use-cases exposed over HTTP.
type Services struct {
	Analyses *appanalysis.Service
	Images   *appimages.Service
	Reports  *appreport.Service
	Hub      *realtime.Handler
}

// Options configure the transport around the services.
type Options struct {
	Credentials    middleware.Credentials
	CORSOrigins    []string
	RateLimiter    *middleware.RateLimiter
	HealthChecks   map[string]middleware.HealthChecker
	Ready          func() bool
	Metrics        http.Handler
	MaxUploadBytes int64
	WebSocket      WSConfig
	Log            *slog.Logger
}

type Router struct {
	analyses *appanalysis.Service
	images   *appimages.Service
	reports  *appreport.Service
	hub      *realtime.Handler
	opts     Options
	log      *slog.Logger
	upgrader upgrader
}

func NewRouter(svc Services, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	opts.WebSocket = opts.WebSocket.withDefaults()
	r := &Router{
		analyses: svc.Analyses,
		images:   svc.Images,
		reports:  svc.Reports,
		hub:      svc.Hub,
		opts:     opts,
		log:      opts.Log.With("component", "httpserver"),
	}
	r.upgrader = newUpgrader(opts.CORSOrigins)

	mux := chi.NewRouter()
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.StripSlashes)
	mux.Use(middleware.Logging(opts.Log))
	mux.Use(middleware.Metrics)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RateLimiter != nil {
		mux.Use(opts.RateLimiter.Middleware)
	}

	mux.Get("/", r.handleRoot)
	mux.Get("/health", middleware.HealthHandler(opts.HealthChecks))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Ready))
	mux.Get("/live", middleware.LivenessHandler)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	mux.Route("/api/v1", func(api chi.Router) {
		api.Post("/login/token", middleware.LoginHandler(opts.Credentials))

		api.Route("/analysis", func(rt chi.Router) {
			rt.Post("/start", r.wrap(r.handleStartAnalysis))
			rt.Get("/", r.wrap(r.handleListAnalyses))
			rt.Get("/models", r.wrap(r.handleListModels))
			rt.Get("/{id}", r.wrap(r.handleGetAnalysis))
			rt.Post("/{id}/cancel", r.wrap(r.handleCancelAnalysis))
			rt.Delete("/{id}", r.wrap(r.handleDeleteAnalysis))
			rt.With(middleware.BearerAuth(opts.Credentials)).
				Post("/{id}/report", r.wrap(r.handleReport))
		})

		api.Route("/images", func(rt chi.Router) {
			rt.Post("/upload", r.wrap(r.handleUpload))
			rt.Get("/", r.wrap(r.handleListImages))
			rt.Get("/{id}", r.wrap(r.handleGetImage))
			rt.Get("/{id}/download", r.wrap(r.handleDownload))
			rt.Delete("/{id}", r.wrap(r.handleDeleteImage))
		})
	})

	mux.Route("/ws", func(rt chi.Router) {
		rt.Get("/analysis/{client_id}", r.handleAnalysisSocket)
		rt.Get("/broadcast", r.handleBroadcastSocket)
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				r.log.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
			}
			writeJSON(w, status, map[string]string{"detail": detail(err)})
		}
	}
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, images.ErrInvalidUpload),
		errors.Is(err, images.ErrInUse):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, images.ErrNotFound),
		errors.Is(err, aimodels.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrState),
		errors.Is(err, domain.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, images.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domai.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detail strips the sentinel prefix so clients see only the message.
func detail(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{errBadRequest, domain.ErrValidation, domain.ErrState, images.ErrInvalidUpload, images.ErrInUse, images.ErrTooLarge} {
		if errors.Is(err, sentinel) {
			msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
		}
	}
	if statusFor(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(req *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// GET /
func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "medical-image-analysis-api",
		"version": "1.0.0",
		"endpoints": []string{
			"/api/v1/analysis", "/api/v1/images", "/ws/analysis/{client_id}", "/health", "/metrics",
		},
	})
}

func contentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
