package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
)

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key, err := l.Put(ctx, "abc.png", strings.NewReader("pixels"), 6, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "abc.png", key)

	rc, err := l.Open(ctx, key)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "pixels", string(b))

	require.NoError(t, l.Remove(ctx, key))
	_, err = l.Open(ctx, key)
	assert.ErrorIs(t, err, images.ErrNotFound)
	assert.ErrorIs(t, l.Remove(ctx, key), images.ErrNotFound)
	assert.NoError(t, l.Ping(ctx))
}

func TestLocal_RejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = l.Put(context.Background(), "../escape.png", strings.NewReader("x"), 1, "")
	assert.ErrorIs(t, err, images.ErrInvalidUpload)
}
