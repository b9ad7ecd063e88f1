// Package config loads and validates application configuration from
// NEWCLOUD_* environment variables.
package config
