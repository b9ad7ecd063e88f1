// Package apperrors defines the error taxonomy shared by all handlers and
// the mapping from error kinds to HTTP status codes.
package apperrors
