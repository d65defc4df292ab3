// Package database provides connection pool management for PostgreSQL.
//
// The realtime daemon keeps a single pool, used by the history store
// and archiver for persisted chat messages.
package database
