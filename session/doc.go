// Package session is the protocol client surface: it issues JSON commands
// over the managed channel and matches replies to their requests.
//
// Every command gets a fresh id from a per-session atomic counter and a
// pending-request entry with its own timeout timer. The channel's single
// inbound dispatch point resolves replies purely by id, so replies arriving
// in any order resolve the right caller and a timeout fails only its own
// request. Inbound messages without an id are unsolicited protocol events
// and pass through on a buffered channel, unconsumed by this layer.
//
// Send is the bare round-trip; Call composes the resilience policy around
// it: the per-operation circuit breaker fast-fails while open, otherwise
// the retry executor drives bounded attempts with exponential backoff. When
// the connection manager reports a drop, all in-flight requests fail with
// the drop cause and are never replayed on the reconnected channel.
package session
