package database

import (
	"fmt"
	"net/url"

	"github.com/teamloop/realtime/internal/config"
)

// BuildConnString renders a DBConfig as a postgres:// URL. The password
// is URL-encoded so credentials with special characters survive.
func BuildConnString(cfg config.DBConfig) string {
	password := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
