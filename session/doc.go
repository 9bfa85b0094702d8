// Package session provides message stores that act both as the turn
// recorder and as the history provider of context assembly.
//
// InMemoryStore suits tests and demos; the sqlite sub-package persists
// conversations in a local database.
package session
