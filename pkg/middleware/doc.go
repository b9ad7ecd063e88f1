// Package middleware implements the authentication gate and the role and
// team-membership authorization policies that protect routes.
package middleware
