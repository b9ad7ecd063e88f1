package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore stores avatar blobs on local disk. The directory is expected
// to be served by the backend under the public base URL.
type FilesystemStore struct {
	root    string
	baseURL string
}

// NewFilesystemStore creates a filesystem store rooted at dir, creating the
// directory if needed.
func NewFilesystemStore(dir, baseURL string) (*FilesystemStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &FilesystemStore{root: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the directory blobs are written to.
func (s *FilesystemStore) Root() string {
	return s.root
}

func (s *FilesystemStore) path(key string) (string, error) {
	// Keys are generated server-side, but reject traversal anyway.
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	clean := filepath.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Save writes the blob to disk and returns its public URL.
func (s *FilesystemStore) Save(ctx context.Context, key string, content io.Reader, contentType string) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create avatar directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create avatar file: %w", err)
	}

	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write avatar file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close avatar file: %w", err)
	}

	return s.baseURL + "/" + key, nil
}

// Open reads a stored blob.
func (s *FilesystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open avatar file: %w", err)
	}
	return f, nil
}

// Delete removes a stored blob.
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete avatar file: %w", err)
	}
	return nil
}
