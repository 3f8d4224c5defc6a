package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/medimage-analyzer/internal/application"
	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
	"github.com/bryanwahyu/medimage-analyzer/internal/realtime"
)

// Publisher delivers lifecycle notifications. realtime.Notifier satisfies it.
type Publisher interface {
	Announce(eventType, analysisID string, data any) int
	Publish(topic string, data any) int
}

// Config tunes the simulated workload.
type Config struct {
	MinDuration        time.Duration
	MaxDuration        time.Duration
	FailureProbability float64
	// Seed fixes the random source; zero seeds from the clock.
	Seed uint64
}

// Deps are the collaborators of the engine.
type Deps struct {
	Analyses domain.Repository
	Images   images.Repository
	Models   aimodels.Repository
	Notifier Publisher
	Clock    application.Clock
	Log      *slog.Logger
}

// Update is the data of a topic notification for one analysis.
type Update struct {
	Status          domain.Status  `json:"status"`
	Progress        float64        `json:"progress"`
	Message         string         `json:"message,omitempty"`
	Results         domain.Results `json:"results,omitempty"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
}

// Priorities accepted on start requests.
var Priorities = []string{"low", "normal", "high"}

// StartCommand untuk trigger analysis baru
type StartCommand struct {
	ImageID     string
	ModelID     string
	RequestedBy string
	Priority    string
}

// Service is the analysis lifecycle engine. It is safe for concurrent use.
type Service struct {
	analyses domain.Repository
	images   images.Repository
	models   aimodels.Repository
	notifier Publisher
	clock    application.Clock
	log      *slog.Logger
	cfg      Config

	rnd   *source
	locks keyedMutex
	tasks *tracker

	// workloads outlive the request that started them
	base     context.Context
	stopBase context.CancelFunc
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = cfg.MinDuration
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		analyses: deps.Analyses,
		images:   deps.Images,
		models:   deps.Models,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		log:      deps.Log.With("component", "analysis"),
		cfg:      cfg,
		rnd:      newSource(cfg.Seed),
		tasks:    newTracker(),
		base:     base,
		stopBase: stop,
	}
}

//
// ==== USE CASES ====
//

// Start validates the references, persists a PENDING record, announces it to
// every connection and launches its workload in the background.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*domain.Analysis, error) {
	if err := validatePriority(cmd.Priority); err != nil {
		return nil, err
	}
	img, err := s.images.Get(ctx, cmd.ImageID)
	if errors.Is(err, images.ErrNotFound) {
		return nil, fmt.Errorf("%w: Image %s not found", domain.ErrValidation, cmd.ImageID)
	}
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	model, err := s.models.Get(ctx, cmd.ModelID)
	if errors.Is(err, aimodels.ErrNotFound) {
		return nil, fmt.Errorf("%w: AI Model %s not found", domain.ErrValidation, cmd.ModelID)
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if !model.IsActive {
		return nil, fmt.Errorf("%w: AI Model %s v%s is not active", domain.ErrValidation, model.Name, model.Version)
	}

	a := domain.New(domain.ID(uuid.NewString()), img.ID, model.ID, cmd.RequestedBy, s.clock.Now())
	if err := s.analyses.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	a.ImageFilename = img.Filename
	a.ModelName = model.Name
	a.ModelVersion = model.Version

	metrics.AnalysisStarted()
	s.log.Info("analysis started", "analysis_id", a.ID, "image_id", img.ID, "model", model.Name, "priority", cmd.Priority)
	s.notifier.Announce(realtime.TypeNewAnalysis, string(a.ID), a.Clone())

	if err := s.Launch(a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func validatePriority(p string) error {
	if p == "" {
		return nil
	}
	for _, ok := range Priorities {
		if p == ok {
			return nil
		}
	}
	return fmt.Errorf("%w: priority must be one of low, normal, high", domain.ErrValidation)
}

// Launch runs the workload for id in a tracked background task. A second
// launch while the first is running fails with ErrAlreadyRunning.
func (s *Service) Launch(id domain.ID) error {
	return s.tasks.start(s.base, id, func(ctx context.Context) {
		s.run(ctx, id)
	})
}

// Get returns one analysis with its image and model names filled in.
func (s *Service) Get(ctx context.Context, id domain.ID) (*domain.Analysis, error) {
	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, a)
	return a, nil
}

// List returns analyses newest first.
func (s *Service) List(ctx context.Context, f domain.Filter) ([]*domain.Analysis, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, f.Status)
	}
	list, err := s.analyses.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		s.enrich(ctx, a)
	}
	return list, nil
}

// Models lists the model registry.
func (s *Service) Models(ctx context.Context, activeOnly bool) ([]*aimodels.Model, error) {
	return s.models.List(ctx, activeOnly)
}

// ImageInUse reports whether any analysis references imageID.
func (s *Service) ImageInUse(ctx context.Context, imageID string) (bool, error) {
	list, err := s.analyses.List(ctx, domain.Filter{ImageID: imageID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

// Cancel forces a non-terminal analysis into CANCELLED and stops its workload.
func (s *Service) Cancel(ctx context.Context, id domain.ID) (*domain.Analysis, error) {
	a, err := s.forceCancel(ctx, id, domain.CodeUserCancelled, "Analysis cancelled by user")
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, a)
	return a, nil
}

// Delete removes an analysis, cancelling it first if it is still active.
func (s *Service) Delete(ctx context.Context, id domain.ID) error {
	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return err
	}
	if !a.Status.IsTerminal() {
		cancelled, err := s.forceCancel(ctx, id, domain.CodeUserDeleted, "Analysis cancelled and deleted by user")
		switch {
		case err == nil:
			a = cancelled
		case errors.Is(err, domain.ErrState):
			// finished on its own in between; delete what is there
			if a, err = s.analyses.Get(ctx, id); err != nil {
				return err
			}
		default:
			return err
		}
	}
	s.tasks.stop(id)

	unlock := s.locks.lock(id)
	err = s.analyses.Delete(ctx, id)
	unlock()
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}

	s.enrich(ctx, a)
	s.log.Info("analysis deleted", "analysis_id", id)
	s.notifier.Announce(realtime.TypeAnalysisDeleted, string(id), a)
	return nil
}

func (s *Service) forceCancel(ctx context.Context, id domain.ID, code, message string) (*domain.Analysis, error) {
	now := s.clock.Now()
	a, err := s.mutate(ctx, id, func(a *domain.Analysis) error {
		return a.Cancel(code, message, now)
	}, func(a *domain.Analysis) Update {
		return Update{
			Status:    a.Status,
			Progress:  a.Progress,
			Message:   message,
			Error:     message,
			ErrorCode: code,
		}
	})
	if err != nil {
		return nil, err
	}
	s.tasks.stop(id)
	metrics.AnalysisFinished(string(a.Status), code)
	s.log.Info("analysis cancelled", "analysis_id", id, "code", code)
	return a, nil
}

// Wait blocks until the workload for id has returned.
func (s *Service) Wait(ctx context.Context, id domain.ID) error {
	return s.tasks.wait(ctx, id)
}

// Running reports the number of workloads in flight.
func (s *Service) Running() int { return s.tasks.running() }

// Shutdown interrupts every workload and waits for them to record why they
// stopped.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopBase()
	return s.tasks.shutdown(ctx)
}

// mutate re-loads the record under its lock, applies fn, saves the result and
// publishes notify's update before releasing the lock, so subscribers see
// updates in the order they were stored. The entity refuses to change a
// terminal record, so a cancelled analysis is never brought back by a late
// write.
func (s *Service) mutate(ctx context.Context, id domain.ID, fn func(*domain.Analysis) error, notify func(*domain.Analysis) Update) (*domain.Analysis, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := s.analyses.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save analysis %s: %w", id, err)
	}
	if notify != nil {
		s.notifier.Publish(string(id), notify(a))
	}
	return a, nil
}

func (s *Service) enrich(ctx context.Context, a *domain.Analysis) {
	if img, err := s.images.Get(ctx, a.ImageID); err == nil {
		a.ImageFilename = img.Filename
	}
	if m, err := s.models.Get(ctx, a.ModelID); err == nil {
		a.ModelName = m.Name
		a.ModelVersion = m.Version
	}
}
