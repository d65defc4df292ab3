package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerHost         = "0.0.0.0"
	DefaultServerPort         = 8080
	DefaultReadTimeout        = 15 * time.Second
	DefaultWriteTimeout       = 15 * time.Second
	DefaultSendBuffer         = 256
	DefaultMaxMessageSize     = 512 * 1024
	DefaultPingInterval       = 30 * time.Second
	DefaultPongWait           = 60 * time.Second
	DefaultHistoryLimit       = 50
	DefaultOrigin             = "http://localhost:8080"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultBridgeExchange     = "teamloop.events"
	DefaultBridgeBufferSize   = 1024
	DefaultAuthTTL            = 24 * time.Hour
	DefaultAuthIssuer         = "teamloop-realtime"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}

	// Hub defaults
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = DefaultSendBuffer
	}
	if c.Hub.MaxMessageSize == 0 {
		c.Hub.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}
	if c.Hub.PongWait == 0 {
		c.Hub.PongWait = DefaultPongWait
	}
	if c.Hub.HistoryLimit == 0 {
		c.Hub.HistoryLimit = DefaultHistoryLimit
	}

	// Client defaults
	if c.Client.Origin == "" {
		c.Client.Origin = DefaultOrigin
	}
	if c.Client.ReconnectBaseDelay == 0 {
		c.Client.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Client.ReconnectMaxDelay == 0 {
		c.Client.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// History defaults
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultFlushInterval
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = DefaultBufferSize
	}

	// Bridge defaults
	if c.Bridge.Exchange == "" {
		c.Bridge.Exchange = DefaultBridgeExchange
	}
	if c.Bridge.BufferSize == 0 {
		c.Bridge.BufferSize = DefaultBridgeBufferSize
	}

	// Auth defaults
	if c.Auth.TTL == 0 {
		c.Auth.TTL = DefaultAuthTTL
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = DefaultAuthIssuer
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
