// Package cli implements the owners-notify command line: the API server, one
// shot send and preview commands, fixture import and mail history listing.
package cli
