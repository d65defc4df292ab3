package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/realtime/internal/wire"
)

// Store reads and migrates the messages table.
type Store struct {
	db *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the messages table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			message_id UUID PRIMARY KEY,
			channel_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_channel_sent_at_idx
			ON messages (channel_id, sent_at DESC)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate messages: %w", err)
		}
	}
	return nil
}

// Recent returns the newest limit messages in a channel, oldest first,
// ready to replay to a joiner.
func (s *Store) Recent(ctx context.Context, channelID string, limit int) ([]wire.ChatPayload, error) {
	rows, err := s.db.Query(ctx, `
		SELECT message_id, channel_id, sender, body, sent_at
		FROM messages
		WHERE channel_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []wire.ChatPayload
	for rows.Next() {
		var m wire.ChatPayload
		if err := rows.Scan(&m.MessageID, &m.ChannelID, &m.Sender, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Newest-first from the index, chronological for replay.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
