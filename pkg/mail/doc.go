// Package mail provides the notification message model and its delivery:
// SMTP sending with retry logic, threading headers, a background mail
// queue, and a reloadable service that persists messages to an outbox
// before enqueueing them.
package mail
