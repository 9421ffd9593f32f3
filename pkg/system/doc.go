// Package system provides process-wide helpers: zap logger construction
// and structured logging fields for ownership records.
package system
