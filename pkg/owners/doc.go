// Package owners defines the ownership records that notifications are
// composed from (packages, owners, path rules, display handles) and the
// read-only interfaces used to load them.
package owners
