package aimodels

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("model not found")

// Repository port for the model registry.
type Repository interface {
	Save(ctx context.Context, m *Model) error
	Get(ctx context.Context, id string) (*Model, error)
	List(ctx context.Context, activeOnly bool) ([]*Model, error)
}
