package httpapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mediaplan/backend/internal/config"
	"mediaplan/backend/internal/threads"
)

// StoredObject is one brief or plan export on its way to the object store.
type StoredObject struct {
	Path        string
	ContentType string
	// Filename is offered to whoever downloads the object.
	Filename string
	ThreadID string
	Kind     threads.FileKind
	Data     []byte
}

// ObjectStore holds the raw bytes of uploaded briefs and exported plans.
type ObjectStore interface {
	Backend() string
	PutObject(ctx context.Context, obj StoredObject) error
	DeleteObject(ctx context.Context, objectPath string) error
}

// NewObjectStore picks the backend named by cfg.StorageBackend.
func NewObjectStore(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageGCS:
		return NewGCSObjectStore(ctx, cfg.GCSBucket)
	case config.StorageLocal:
		return NewLocalObjectStore(cfg.LocalUploadDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// LocalObjectStore writes objects below a root directory.
type LocalObjectStore struct {
	root string
}

func NewLocalObjectStore(root string) (*LocalObjectStore, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("local upload dir is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalObjectStore{root: trimmed}, nil
}

func (s *LocalObjectStore) Backend() string {
	return "local"
}

// PutObject writes the bytes only; metadata lives in the threads store.
func (s *LocalObjectStore) PutObject(_ context.Context, obj StoredObject) error {
	full, err := s.resolve(obj.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(full, obj.Data, 0o644); err != nil {
		return fmt.Errorf("write object %q: %w", obj.Path, err)
	}
	return nil
}

func (s *LocalObjectStore) DeleteObject(_ context.Context, objectPath string) error {
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %q: %w", objectPath, err)
	}
	return nil
}

func (s *LocalObjectStore) resolve(objectPath string) (string, error) {
	cleanPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleanPath)), nil
}

// cleanObjectPath rejects empty paths and any path that climbs out of the
// store root.
func cleanObjectPath(objectPath string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(objectPath), "/")
	if trimmed == "" {
		return "", errors.New("object path is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("object path %q escapes the store", objectPath)
	}
	return cleaned, nil
}

func contentTypeOrDefault(contentType string) string {
	if trimmed := strings.TrimSpace(contentType); trimmed != "" {
		return trimmed
	}
	return "application/octet-stream"
}
