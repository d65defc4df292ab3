// Package presence tracks which users are online and what status they
// advertise. Liveness comes from connection lifecycle (ping/pong on the
// socket), not from heartbeats inside the message envelope.
package presence
