// Package messenger delivers reminder messages to recipients.
//
// A Messenger takes a fully rendered message (subject, HTML body, plain
// fallback) and a recipient list, and either delivers to every recipient
// or reports an error. Recipients are plain email addresses by default;
// addresses prefixed with "tg:" are Telegram chat IDs and are routed to
// the Telegram channel when one is configured.
//
// Delivery is synchronous. Retry policy lives with the caller, which owns
// the attempt counter on the scheduled record.
package messenger
