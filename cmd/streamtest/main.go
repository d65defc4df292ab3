// streamtest connects to a realtimed gateway and streams decoded
// messages to the console. Useful for smoke-testing a running daemon.
//
// Usage:
//
//	go run ./cmd/streamtest --origin http://localhost:8080 --channel general
//	go run ./cmd/streamtest --origin http://localhost:8080 --channel general --say "hello"
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teamloop/realtime/internal/config"
	"github.com/teamloop/realtime/internal/connection"
	"github.com/teamloop/realtime/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "config file; its client section supplies defaults")
	origin := flag.String("origin", "", "gateway origin (http/https); overrides client.origin")
	token := flag.String("token", "", "connection token (when auth is enabled)")
	channel := flag.String("channel", "", "channel to join")
	session := flag.String("session", "", "coding session to join")
	say := flag.String("say", "", "send one chat message to the channel, then keep streaming")
	fixed := flag.Duration("fixed-reconnect", 0, "fixed reconnect interval; overrides client.fixed_reconnect")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	defaults := clientDefaults()
	if *configPath != "" {
		loaded, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "config", *configPath, "error", err)
			os.Exit(1)
		}
		defaults = loaded.Client
	}
	target, backoff := resolveClient(*origin, *fixed, defaults)

	url, err := connection.SocketURL(target)
	if err != nil {
		logger.Error("bad origin", "origin", target, "error", err)
		os.Exit(1)
	}
	if *token != "" {
		url += "?token=" + *token
	}

	cfg := connection.DefaultClientConfig()
	cfg.URL = url
	cfg.Backoff = backoff

	client := connection.NewClient(cfg, logger)
	defer client.Close()

	// Wildcard subscription: print everything the gateway sends.
	client.Subscribe(wire.KindMessage, func(env wire.Envelope) {
		if *verbose {
			fmt.Printf("%s %s\n", env.Kind, string(env.Raw))
			return
		}
		printMessage(env)
	})

	logger.Info("connecting", "url", url)
	client.Connect()

	// Wait for the socket before joining rooms.
	deadline := time.Now().Add(15 * time.Second)
	for !client.IsConnected() {
		if time.Now().After(deadline) {
			logger.Error("connection timed out", "url", url)
			os.Exit(1)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if *channel != "" {
		if err := client.Send(wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: *channel}); err != nil {
			logger.Error("join_channel failed", "error", err)
		}
	}
	if *session != "" {
		if err := client.Send(wire.KindJoinCodingSession, wire.JoinCodingSessionPayload{SessionID: *session}); err != nil {
			logger.Error("join_coding_session failed", "error", err)
		}
	}
	if *say != "" && *channel != "" {
		if err := client.Send(wire.KindChat, wire.ChatPayload{ChannelID: *channel, Text: *say}); err != nil {
			logger.Error("chat send failed", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			stats := client.Stats()
			logger.Info("stream summary",
				"opens", stats.Opens,
				"received", stats.Received,
				"sent", stats.Sent,
				"disconnects", stats.Disconnects,
				"parse_errors", stats.ParseErrors,
			)
			return
		case <-ticker.C:
			stats := client.Stats()
			logger.Info("stats",
				"state", client.State(),
				"received", stats.Received,
				"disconnects", stats.Disconnects,
			)
		}
	}
}

// clientDefaults mirrors the client section's configured defaults for
// runs without a config file.
func clientDefaults() config.ClientConfig {
	return config.ClientConfig{
		Origin:             config.DefaultOrigin,
		ReconnectBaseDelay: config.DefaultReconnectBaseDelay,
		ReconnectMaxDelay:  config.DefaultReconnectMaxDelay,
	}
}

// resolveClient merges flags over the client config section: flags win,
// then fixed_reconnect, then exponential backoff from the delay bounds.
func resolveClient(origin string, fixed time.Duration, defaults config.ClientConfig) (string, connection.Backoff) {
	if origin == "" {
		origin = defaults.Origin
	}
	switch {
	case fixed > 0:
		return origin, connection.NewFixed(fixed)
	case defaults.FixedReconnect > 0:
		return origin, connection.NewFixed(defaults.FixedReconnect)
	default:
		return origin, connection.NewExponential(defaults.ReconnectBaseDelay, defaults.ReconnectMaxDelay)
	}
}

// printMessage renders one decoded message per line.
func printMessage(env wire.Envelope) {
	msg, err := wire.Decode(env)
	if err != nil {
		fmt.Printf("[%s] (unknown)\n", env.Kind)
		return
	}

	switch m := msg.(type) {
	case wire.ChatPayload:
		fmt.Printf("[chat] #%s <%s> %s\n", m.ChannelID, m.Sender, m.Text)
	case wire.HistoryPayload:
		fmt.Printf("[history] #%s %d messages\n", m.ChannelID, len(m.Messages))
		for _, c := range m.Messages {
			fmt.Printf("  %s <%s> %s\n", c.SentAt.Format(time.RFC3339), c.Sender, c.Text)
		}
	case wire.TypingPayload:
		fmt.Printf("[typing] #%s %s\n", m.ChannelID, m.UserID)
	case wire.PresencePayload:
		fmt.Printf("[presence] %s is %s\n", m.UserID, m.Status)
	case wire.CodeUpdatePayload:
		fmt.Printf("[code_update] %s (%s) %d bytes\n", m.SessionID, m.Language, len(m.Code))
	case wire.RunCodePayload:
		fmt.Printf("[run_code] %s (%s)\n", m.SessionID, m.Language)
	case wire.CollaboratorJoinedPayload:
		fmt.Printf("[joined] %s -> %s\n", m.Username, m.SessionID)
	case wire.CollaboratorLeftPayload:
		fmt.Printf("[left] %s <- %s\n", m.Username, m.SessionID)
	case wire.ErrorPayload:
		fmt.Printf("[error] %s: %s\n", m.Code, m.Message)
	default:
		fmt.Printf("[%s] %s\n", env.Kind, string(env.Raw))
	}
}
