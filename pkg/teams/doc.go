// Package teams implements the team lifecycle: creation, membership
// management, and manager promotion/demotion.
package teams
