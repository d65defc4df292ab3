// Package wire defines the message envelope and typed message kinds
// carried over the realtime socket.
//
// Conventions:
//   - Every frame is a UTF-8 JSON object with a mandatory "type" field
//   - All other fields belong to the payload of that kind
//   - Unknown kinds are ignored by receivers, never rejected
//   - Timestamps: RFC 3339 in JSON, time.Time in Go
package wire
