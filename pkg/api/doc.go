// Package api implements the owners-notify HTTP API (Gin-based): health and
// metrics endpoints plus REST endpoints to send and preview package
// notifications, list the mails stored for a package and delete a package
// with a final notice to its owners.
package api
