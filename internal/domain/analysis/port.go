package analysis

import "context"

// Filter narrows List queries. Zero values mean "no filter".
type Filter struct {
	Status      Status
	RequestedBy string
	ImageID     string
	Skip        int
	Limit       int
}

// Repository port (interface untuk persistence)
//
// Get returns ErrNotFound when the id is unknown. Implementations must hand
// out independent copies so concurrent workloads never share a record.
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	Get(ctx context.Context, id ID) (*Analysis, error)
	Delete(ctx context.Context, id ID) error
	List(ctx context.Context, f Filter) ([]*Analysis, error)
}
