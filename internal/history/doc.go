// Package history archives chat traffic to Postgres and replays recent
// channel messages to joiners. The archiver batches inserts so the hub
// never waits on the database; a full buffer drops messages instead of
// applying backpressure.
package history
