// Package connection implements the realtime Connection Manager component.
//
// The Connection Manager:
//   - Owns at most one live WebSocket per Client instance
//   - Dispatches inbound envelopes to kind-keyed subscribers, plus a
//     wildcard "message" bucket that sees every frame
//   - Schedules reconnection after transport failures via a pluggable
//     backoff policy, with at most one pending attempt at a time
//   - Treats dial failures and post-connection closes identically
package connection
