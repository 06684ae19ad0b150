package contentstore

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	s := NewStoreOnFs(afero.NewMemMapFs())
	ctx := context.Background()
	data := []byte("hello media")
	hash := Hash(data)

	p, err := s.Put(ctx, "image", hash, data)
	require.NoError(t, err)
	assert.Equal(t, "image/"+hash[:2]+"/"+hash, p)

	again, err := s.Put(ctx, "image", hash, data)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	got, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, p))
	_, err = s.Get(ctx, p)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, p))
}

func TestPutRejectsWrongHash(t *testing.T) {
	s := NewStoreOnFs(afero.NewMemMapFs())

	_, err := s.Put(context.Background(), "image", Hash([]byte("a")), []byte("b"))
	assert.ErrorIs(t, err, ErrHashMismatch)

	_, err = s.Put(context.Background(), "image", "short", []byte("b"))
	assert.Error(t, err)
}

func TestGetEmptyPath(t *testing.T) {
	s := NewStoreOnFs(afero.NewMemMapFs())
	_, err := s.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}
