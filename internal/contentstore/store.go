// Package contentstore stores media bytes addressed by their sha-256.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrNotFound is returned when no bytes are stored under a path.
var ErrNotFound = errors.New("content not found")

// ErrHashMismatch is returned when bytes don't match the declared hash.
var ErrHashMismatch = errors.New("content hash mismatch")

// Store is the binary storage used by the media lifecycle.
type Store interface {
	// Put stores data under hash. Writing an existing hash is a no-op.
	Put(ctx context.Context, namespace, hash string, data []byte) (string, error)
	Get(ctx context.Context, storagePath string) ([]byte, error)
	Delete(ctx context.Context, storagePath string) error
}

// Hash returns the hex sha-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FSStore implements Store on an afero filesystem. Paths are
// <namespace>/<hash[0:2]>/<hash>.
type FSStore struct {
	fs afero.Fs
}

// NewFSStore roots a store at dir on the OS filesystem.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// NewStoreOnFs wraps any afero filesystem, e.g. afero.NewMemMapFs in tests.
func NewStoreOnFs(fs afero.Fs) *FSStore {
	return &FSStore{fs: fs}
}

func objectPath(namespace, hash string) string {
	return path.Join(namespace, hash[:2], hash)
}

func (s *FSStore) Put(ctx context.Context, namespace, hash string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(hash) != sha256.Size*2 {
		return "", fmt.Errorf("invalid content hash %q", hash)
	}
	if Hash(data) != hash {
		return "", ErrHashMismatch
	}

	p := objectPath(namespace, hash)
	exists, err := afero.Exists(s.fs, p)
	if err != nil {
		return "", err
	}
	if exists {
		return p, nil
	}

	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return "", err
	}
	tmp := p + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}
	// Concurrent writers of the same hash produce identical bytes, so the
	// last rename is indistinguishable from the first.
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}
	return p, nil
}

func (s *FSStore) Get(ctx context.Context, storagePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if storagePath == "" {
		return nil, ErrNotFound
	}
	data, err := afero.ReadFile(s.fs, storagePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete removes the bytes. Deleting a missing path succeeds.
func (s *FSStore) Delete(ctx context.Context, storagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if storagePath == "" {
		return nil
	}
	err := s.fs.Remove(storagePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
