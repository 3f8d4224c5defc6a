package images

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound      = errors.New("image not found")
	ErrInvalidUpload = errors.New("invalid upload")
	ErrTooLarge      = errors.New("upload too large")
	// ErrInUse blocks deleting an image that analyses still reference.
	ErrInUse = errors.New("image in use")
)

// Repository port for image metadata. Get returns ErrNotFound for unknown ids.
type Repository interface {
	Save(ctx context.Context, img *Image) error
	Get(ctx context.Context, id string) (*Image, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]*Image, error)
}

// UsageChecker reports whether any analysis references the image.
type UsageChecker interface {
	ImageInUse(ctx context.Context, id string) (bool, error)
}

// BlobStore port for the image bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}
