// Package hub fans realtime traffic out to connected clients.
//
// One goroutine owns the client set and all room membership; sessions
// hand it work over channels, so no handler ever races another. Each
// client gets a bounded send buffer and is dropped if it cannot keep up.
// Inbound envelopes dispatch through a typed registry keyed by
// wire.Kind; unknown kinds are ignored.
package hub
