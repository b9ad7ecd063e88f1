// Package gateway implements the front proxy that routes /api/auth traffic
// to the backend service and everything else to the client application.
package gateway
