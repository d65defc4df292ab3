package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/teamloop/realtime/internal/wire"
)

// fakeSender records batched inserts and the context they arrived with.
type fakeSender struct {
	mu     sync.Mutex
	rows   int
	ctxErr error
}

func (f *fakeSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.rows += len(b.QueuedQueries)
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	return &fakeResults{remaining: len(b.QueuedQueries)}
}

func (f *fakeSender) snapshot() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, f.ctxErr
}

type fakeResults struct {
	remaining int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.remaining == 0 {
		return pgconn.CommandTag{}, errors.New("no queued query")
	}
	r.remaining--
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not a query batch") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func TestArchiver_Transform(t *testing.T) {
	a := NewArchiver(DefaultArchiverConfig(), nil, nil)

	sentAt := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	msg := wire.ChatPayload{
		MessageID: "0c6f9a2e-1111-4222-8333-444455556666",
		ChannelID: "general",
		Sender:    "alice",
		Text:      "hi",
		SentAt:    sentAt,
	}

	row := a.transform(msg)

	if row.MessageID != msg.MessageID {
		t.Errorf("MessageID = %s, want %s", row.MessageID, msg.MessageID)
	}
	if row.ChannelID != "general" {
		t.Errorf("ChannelID = %s, want general", row.ChannelID)
	}
	if row.Sender != "alice" {
		t.Errorf("Sender = %s, want alice", row.Sender)
	}
	if row.Body != "hi" {
		t.Errorf("Body = %s, want hi", row.Body)
	}
	if !row.SentAt.Equal(sentAt) {
		t.Errorf("SentAt = %v, want %v", row.SentAt, sentAt)
	}
}

func TestArchiver_EnqueueDropsWhenFull(t *testing.T) {
	cfg := DefaultArchiverConfig()
	cfg.BufferSize = 2
	a := NewArchiver(cfg, nil, nil)

	// Not started: nothing consumes the buffer.
	for i := 0; i < 2; i++ {
		if !a.Enqueue(wire.ChatPayload{Text: "fits"}) {
			t.Fatalf("Enqueue %d = false, want true", i)
		}
	}
	if a.Enqueue(wire.ChatPayload{Text: "overflow"}) {
		t.Error("Enqueue on full buffer = true, want false")
	}

	if got := a.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestArchiver_BatchAccumulation(t *testing.T) {
	cfg := DefaultArchiverConfig()
	cfg.BatchSize = 100
	a := NewArchiver(cfg, nil, nil)

	for i := 0; i < 3; i++ {
		a.handleMessage(context.Background(), wire.ChatPayload{ChannelID: "general", Text: "x"})
	}

	a.batchMu.Lock()
	got := len(a.batch)
	a.batchMu.Unlock()
	if got != 3 {
		t.Errorf("batch length = %d, want 3", got)
	}
}

func TestArchiver_StopFlushesQueuedMessages(t *testing.T) {
	cfg := DefaultArchiverConfig()
	cfg.BatchSize = 100
	cfg.FlushInterval = time.Hour // only the final flush writes
	sender := &fakeSender{}
	a := NewArchiver(cfg, sender, nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !a.Enqueue(wire.ChatPayload{ChannelID: "general", Text: "bye"}) {
			t.Fatalf("Enqueue %d = false, want true", i)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	rows, ctxErr := sender.snapshot()
	if rows != 3 {
		t.Errorf("rows written = %d, want 3", rows)
	}
	if ctxErr != nil {
		t.Errorf("final flush context error = %v, want nil", ctxErr)
	}
	if got := a.Stats().Inserts; got != 3 {
		t.Errorf("Inserts = %d, want 3", got)
	}
	if got := a.Stats().Errors; got != 0 {
		t.Errorf("Errors = %d, want 0", got)
	}
}
