package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Hub.SendBuffer < 1 {
		return errors.New("hub.send_buffer must be >= 1")
	}
	if c.Hub.MaxMessageSize < 1 {
		return errors.New("hub.max_message_size must be >= 1")
	}
	if c.Hub.PongWait <= c.Hub.PingInterval {
		return errors.New("hub.pong_wait must exceed hub.ping_interval")
	}
	if c.Hub.HistoryLimit < 1 {
		return errors.New("hub.history_limit must be >= 1")
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.History.BatchSize < 1 {
			return errors.New("history.batch_size must be >= 1")
		}
		if c.History.BufferSize < 1 {
			return errors.New("history.buffer_size must be >= 1")
		}
	}

	if c.Bridge.Enabled {
		if c.Bridge.URL == "" {
			return errors.New("bridge.url is required when bridge.enabled")
		}
		if c.Bridge.Exchange == "" {
			return errors.New("bridge.exchange is required when bridge.enabled")
		}
		if c.Bridge.BufferSize < 1 {
			return errors.New("bridge.buffer_size must be >= 1")
		}
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.New("auth.secret is required when auth.enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
