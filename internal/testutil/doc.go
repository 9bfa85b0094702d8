// Package testutil contains helpers used across tests to reduce boilerplate
// when building conversations and asserting emitted events. They are not
// intended for production usage.
package testutil
