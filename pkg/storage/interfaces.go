package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// AvatarStore persists uploaded avatar blobs and hands back the public URL
// recorded against the user row.
type AvatarStore interface {
	// Save stores the blob under key and returns its public URL.
	Save(ctx context.Context, key string, content io.Reader, contentType string) (string, error)
	// Open reads a previously stored blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a stored blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures the avatar storage backend.
type Config struct {
	Type string // "filesystem" or "s3"

	// Filesystem config
	UploadDir     string
	PublicBaseURL string // URL prefix under which the upload dir is served

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3Timeout      time.Duration
}

// DefaultConfig returns the filesystem-backed default.
func DefaultConfig() Config {
	return Config{
		Type:          "filesystem",
		UploadDir:     "uploads",
		PublicBaseURL: "/uploads",
		S3Timeout:     10 * time.Second,
	}
}

// NewAvatarStore constructs the backend selected by the config.
func NewAvatarStore(cfg Config) (AvatarStore, error) {
	switch cfg.Type {
	case "filesystem":
		return NewFilesystemStore(cfg.UploadDir, cfg.PublicBaseURL)
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("invalid storage type: %s (must be filesystem or s3)", cfg.Type)
	}
}
