package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanwahyu/medimage-analyzer/internal/application"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
)

// Report is the narrative written over one completed analysis.
type Report struct {
	AnalysisID  string    `json:"analysis_id"`
	Model       string    `json:"model"`
	Narrative   string    `json:"narrative"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Service struct {
	analyses analysis.Repository
	models   aimodels.Repository
	images   images.Repository
	client   ai.Client
	clock    application.Clock
}

func NewService(analyses analysis.Repository, models aimodels.Repository, imgs images.Repository, client ai.Client, clock application.Clock) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Service{analyses: analyses, models: models, images: imgs, client: client, clock: clock}
}

// Generate narrates a COMPLETE analysis. Any other status is a state error.
func (s *Service) Generate(ctx context.Context, id analysis.ID) (*Report, error) {
	if s.client == nil {
		return nil, ai.ErrUnavailable
	}
	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != analysis.StatusComplete {
		return nil, fmt.Errorf("%w: analysis %s is %s, report needs COMPLETE", analysis.ErrState, id, a.Status)
	}
	m, err := s.models.Get(ctx, a.ModelID)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", a.ModelID, err)
	}
	raw, err := json.Marshal(a.Results)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}

	req := ai.ReportRequest{
		AnalysisID:   string(a.ID),
		ModelName:    m.Name,
		ModelVersion: m.Version,
		ModelType:    string(m.Type),
		ResultsJSON:  string(raw),
	}
	if img, err := s.images.Get(ctx, a.ImageID); err == nil {
		req.Modality = img.Modality
	}

	text, err := s.client.Narrate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Report{
		AnalysisID:  string(a.ID),
		Model:       fmt.Sprintf("%s v%s", m.Name, m.Version),
		Narrative:   text,
		GeneratedAt: s.clock.Now(),
	}, nil
}
