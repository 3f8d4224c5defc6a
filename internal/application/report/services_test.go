package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/medimage-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/ai/prompt"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type captureClient struct{ got ai.ReportRequest }

func (c *captureClient) Narrate(_ context.Context, req ai.ReportRequest) (string, error) {
	c.got = req
	return "Impression: fine.", nil
}

const classifierID = "b1f3c1a4-5d2e-4c1b-9a57-0c3f7c1e2a01"

func setup(t *testing.T, client ai.Client) (*Service, *memory.AnalysisRepository) {
	t.Helper()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	analyses := memory.NewAnalysisRepository()
	imgs := memory.NewImageRepository()
	require.NoError(t, imgs.Save(context.Background(), &images.Image{ID: "img", Modality: "X-Ray"}))
	return NewService(analyses, memory.NewModelRepository(now), imgs, client, fixedClock{now}), analyses
}

func completed(t *testing.T, repo *memory.AnalysisRepository, id analysis.ID) {
	t.Helper()
	a := analysis.New(id, "img", classifierID, "", time.Now())
	require.NoError(t, a.Advance(95, time.Now()))
	require.NoError(t, a.Complete(analysis.Results{"confidence_score": 0.88, "prediction": map[string]any{"class": "Normal"}}, 0.88, time.Second, time.Now()))
	require.NoError(t, repo.Save(context.Background(), a))
}

func TestGenerate(t *testing.T) {
	client := &captureClient{}
	svc, repo := setup(t, client)
	completed(t, repo, "a1")

	rep, err := svc.Generate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Impression: fine.", rep.Narrative)
	assert.Equal(t, "Chest X-Ray Classifier v1.0.0", rep.Model)
	assert.Equal(t, "X-Ray", client.got.Modality)
	assert.Equal(t, "classification", client.got.ModelType)
	assert.JSONEq(t, `{"confidence_score":0.88,"prediction":{"class":"Normal"}}`, client.got.ResultsJSON)
}

func TestGenerate_WithLocalNarrator(t *testing.T) {
	svc, repo := setup(t, prompt.Local{})
	completed(t, repo, "a1")

	rep, err := svc.Generate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Contains(t, rep.Narrative, "Impression: predicted class Normal.")
}

func TestGenerate_Errors(t *testing.T) {
	svc, repo := setup(t, &captureClient{})
	require.NoError(t, repo.Save(context.Background(), analysis.New("pending", "img", classifierID, "", time.Now())))

	_, err := svc.Generate(context.Background(), "pending")
	assert.ErrorIs(t, err, analysis.ErrState)

	_, err = svc.Generate(context.Background(), "ghost")
	assert.ErrorIs(t, err, analysis.ErrNotFound)

	none, _ := setup(t, nil)
	_, err = none.Generate(context.Background(), "a1")
	assert.ErrorIs(t, err, ai.ErrUnavailable)
}
