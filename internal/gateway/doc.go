// Package gateway is the HTTP edge of the realtime daemon: the /ws
// WebSocket upgrade, health checks, and debug stats. It authenticates
// connections (when enabled) and hands upgraded sockets to the hub.
package gateway
