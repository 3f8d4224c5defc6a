// Package memory is the in-process persistence driver. It keeps every record
// in maps guarded by a mutex and hands out copies, so concurrent workloads
// never share a record.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
)

type AnalysisRepository struct {
	mu   sync.RWMutex
	rows map[analysis.ID]*analysis.Analysis
}

func NewAnalysisRepository() *AnalysisRepository {
	return &AnalysisRepository{rows: make(map[analysis.ID]*analysis.Analysis)}
}

func (r *AnalysisRepository) Save(_ context.Context, a *analysis.Analysis) error {
	c := a.Clone()
	c.ImageFilename, c.ModelName, c.ModelVersion = "", "", ""
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.ID] = c
	return nil
}

func (r *AnalysisRepository) Get(_ context.Context, id analysis.ID) (*analysis.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, analysis.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *AnalysisRepository) Delete(_ context.Context, id analysis.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return analysis.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// List returns matching records newest first.
func (r *AnalysisRepository) List(_ context.Context, f analysis.Filter) ([]*analysis.Analysis, error) {
	r.mu.RLock()
	out := make([]*analysis.Analysis, 0, len(r.rows))
	for _, a := range r.rows {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.RequestedBy != "" && a.RequestedBy != f.RequestedBy {
			continue
		}
		if f.ImageID != "" && a.ImageID != f.ImageID {
			continue
		}
		out = append(out, a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Skip, f.Limit), nil
}

type ImageRepository struct {
	mu   sync.RWMutex
	rows map[string]*images.Image
}

func NewImageRepository() *ImageRepository {
	return &ImageRepository{rows: make(map[string]*images.Image)}
}

func (r *ImageRepository) Save(_ context.Context, img *images.Image) error {
	c := cloneImage(img)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[img.ID] = c
	return nil
}

func (r *ImageRepository) Get(_ context.Context, id string) (*images.Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.rows[id]
	if !ok {
		return nil, images.ErrNotFound
	}
	return cloneImage(img), nil
}

func (r *ImageRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return images.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *ImageRepository) List(_ context.Context, f images.Filter) ([]*images.Image, error) {
	r.mu.RLock()
	out := make([]*images.Image, 0, len(r.rows))
	for _, img := range r.rows {
		if f.Modality != "" && img.Modality != f.Modality {
			continue
		}
		if f.UploadedBy != "" && img.UploadedBy != f.UploadedBy {
			continue
		}
		out = append(out, cloneImage(img))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Skip, f.Limit), nil
}

func cloneImage(img *images.Image) *images.Image {
	c := *img
	if img.Width != nil {
		w := *img.Width
		c.Width = &w
	}
	if img.Height != nil {
		h := *img.Height
		c.Height = &h
	}
	return &c
}

type ModelRepository struct {
	mu   sync.RWMutex
	rows map[string]*aimodels.Model
}

// NewModelRepository returns a registry preloaded with the seed models.
func NewModelRepository(now time.Time) *ModelRepository {
	r := &ModelRepository{rows: make(map[string]*aimodels.Model)}
	for _, m := range aimodels.Seed(now) {
		r.rows[m.ID] = m
	}
	return r
}

func (r *ModelRepository) Save(_ context.Context, m *aimodels.Model) error {
	c := *m
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.ID] = &c
	return nil
}

func (r *ModelRepository) Get(_ context.Context, id string) (*aimodels.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, aimodels.ErrNotFound
	}
	c := *m
	return &c, nil
}

// List orders by name, then by version descending.
func (r *ModelRepository) List(_ context.Context, activeOnly bool) ([]*aimodels.Model, error) {
	r.mu.RLock()
	out := make([]*aimodels.Model, 0, len(r.rows))
	for _, m := range r.rows {
		if activeOnly && !m.IsActive {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func page[T any](rows []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(rows) {
		return []T{}
	}
	rows = rows[skip:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
