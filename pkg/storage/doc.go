// Package storage provides the avatar blob store abstraction with filesystem
// and S3-compatible backends. Callers deal only in opaque keys and public URLs.
package storage
