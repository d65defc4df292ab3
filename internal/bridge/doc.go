// Package bridge fans chat and session events out to RabbitMQ so other
// services can consume them. Publishing is fire-and-forget with a
// bounded queue; a full queue drops events rather than stalling the hub.
package bridge
