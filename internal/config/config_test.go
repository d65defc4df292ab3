package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-realtimed
server:
  host: 127.0.0.1
  port: 9000
  allowed_origins:
    - http://localhost:3000
database:
  enabled: true
  postgres:
    host: localhost
    port: 5432
    name: teamloop
    user: teamloop
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-realtimed" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-realtimed")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.AllowedOrigins = %v, want [http://localhost:3000]", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_AUTH_SECRET", "hush")

	yaml := `
instance:
  id: test-realtimed
database:
  enabled: true
  postgres:
    host: localhost
    name: teamloop
    user: teamloop
    password: ${TEST_DB_PASSWORD}
auth:
  enabled: true
  secret: ${TEST_AUTH_SECRET}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
	if cfg.Auth.Secret != "hush" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "hush")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-realtimed
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
	if cfg.Hub.SendBuffer != DefaultSendBuffer {
		t.Errorf("Hub.SendBuffer = %d, want default %d", cfg.Hub.SendBuffer, DefaultSendBuffer)
	}
	if cfg.Hub.PongWait != DefaultPongWait {
		t.Errorf("Hub.PongWait = %v, want default %v", cfg.Hub.PongWait, DefaultPongWait)
	}
	if cfg.Client.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Client.ReconnectMaxDelay = %v, want default %v", cfg.Client.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.History.FlushInterval != DefaultFlushInterval {
		t.Errorf("History.FlushInterval = %v, want default %v", cfg.History.FlushInterval, DefaultFlushInterval)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Auth.TTL != 24*time.Hour {
		t.Errorf("Auth.TTL = %v, want 24h", cfg.Auth.TTL)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "pong wait below ping interval",
			mutate:  func(c *Config) { c.Hub.PongWait = c.Hub.PingInterval },
			wantErr: "pong_wait",
		},
		{
			name: "db enabled without host",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres.Host = ""
			},
			wantErr: "database.postgres.host",
		},
		{
			name: "bridge enabled without url",
			mutate: func(c *Config) {
				c.Bridge.Enabled = true
				c.Bridge.URL = ""
			},
			wantErr: "bridge.url",
		},
		{
			name: "auth enabled without secret",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Secret = ""
			},
			wantErr: "auth.secret",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Instance: InstanceConfig{ID: "test"}}
			cfg.Database.Postgres = DBConfig{
				Host: "localhost", Name: "db", User: "u", Password: "p",
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
instance:
  id: test-realtimed
auth:
  enabled: true
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("LoadAndValidate succeeded, want auth.secret error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file, want error")
	}
}
