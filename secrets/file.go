package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// FileStore implements interfaces.SecretStore on a local directory, one file
// per secret. Used for development and tests; never for production secret
// material.
type FileStore struct {
	dir         string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a directory backed store, creating the directory if
// needed.
func NewFileStore(dir string, log *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating secret directory: %w", err)
	}

	return &FileStore{
		dir:         dir,
		log:         log,
		locationURI: "file://" + dir,
	}, nil
}

// List enumerates files with valid secret names.
func (s *FileStore) List(ctx context.Context) ([]interfaces.SecretName, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	var names []interfaces.SecretName
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := interfaces.NewSecretName(entry.Name())
		if err != nil {
			s.log.Debug("Skipping file with unusable name", slog.String("file", entry.Name()))
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Fetch reads the secret file.
func (s *FileStore) Fetch(ctx context.Context, name interfaces.SecretName) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name.String()))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrSecretNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading secret %s: %w", name, err)
	}
	return data, nil
}

// Put writes the secret file with owner-only permissions.
func (s *FileStore) Put(ctx context.Context, name interfaces.SecretName, value []byte) error {
	if err := os.WriteFile(filepath.Join(s.dir, name.String()), value, 0600); err != nil {
		return fmt.Errorf("writing secret %s: %w", name, err)
	}
	return nil
}

// Delete removes the secret file. Missing is not an error.
func (s *FileStore) Delete(ctx context.Context, name interfaces.SecretName) error {
	err := os.Remove(filepath.Join(s.dir, name.String()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting secret %s: %w", name, err)
	}
	return nil
}

// Available checks the directory is readable.
func (s *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(s.dir)
	return err == nil
}

// Name returns an identifier for logging.
func (s *FileStore) Name() string {
	return "file-" + filepath.Base(s.dir)
}

// LocationURI returns the URI identifying this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}
