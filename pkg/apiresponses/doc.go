// Package apiresponses provides the JSON error envelope and response helpers
// used by the owners-notify HTTP API.
package apiresponses
