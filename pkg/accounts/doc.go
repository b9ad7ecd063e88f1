// Package accounts implements the account lifecycle: registration, login,
// profile management, and administrative account controls.
package accounts
