// Package store is the SQLite-backed record store. It holds users,
// repositories and packages with their owners and path rules, resolves
// identifiers into display handles, and keeps the outbox of composed mails.
package store
