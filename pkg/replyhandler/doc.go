// Package replyhandler fans a notification template out to its recipients.
// Handlers are selected by name from configuration: "public" sends one mail
// with a shared reply address, "private" sends one mail per recipient with a
// signed, recipient-specific reply address.
package replyhandler
