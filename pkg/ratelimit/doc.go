// Package ratelimit provides keyed token-bucket rate limiting middleware for
// Gin HTTP servers: per client IP for the whole API and per package for
// notification requests, with automatic stale-entry cleanup.
package ratelimit
