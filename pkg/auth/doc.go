// Package auth implements session token issuance and verification, password
// hashing, and the optional token revocation list.
//
// Tokens are stateless HMAC-signed JWTs carrying a minimal identity claim.
// Verification never consults the database: a disabled or deleted user can
// present a structurally valid token until it expires unless the revocation
// list is configured. That trade (no server-side session table, no instant
// revocation) is deliberate.
package auth
