// Package notify composes the mail notifications sent when a package is
// created, changed or deleted.
//
// Composition runs in two pure steps followed by fan-out:
//
//   - Load reads owners and path rules from the record store and resolves
//     every referenced identifier into a display handle in one batch,
//     producing an immutable Draft.
//   - Render turns a Draft into the plain-text body. Sections always appear
//     in the order summary, description, primary owner, owners, auditing,
//     paths; a section without content is left out.
//   - Composer builds one message template (subject, vary-subject, thread,
//     body) and lets the configured reply handler split it into the
//     messages that are finally committed through the mail transport.
//
// The notification kind is a Variant; Kind provides the Created, Changed
// and Deleted variants.
package notify
