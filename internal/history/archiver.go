package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teamloop/realtime/internal/wire"
)

// ArchiverConfig configures batching behavior.
type ArchiverConfig struct {
	BatchSize     int           // Rows per flush
	FlushInterval time.Duration // Max time a row waits in the batch
	BufferSize    int           // Inbound channel capacity
}

// DefaultArchiverConfig returns sensible defaults.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// ArchiverStats provides counters for the archive pipeline.
type ArchiverStats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// messageRow is the table shape of a stamped chat message.
type messageRow struct {
	MessageID string
	ChannelID string
	Sender    string
	Body      string
	SentAt    time.Time
}

// BatchSender executes batched inserts. Satisfied by pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Archiver consumes stamped chat messages and writes them in batches.
type Archiver struct {
	cfg    ArchiverConfig
	logger *slog.Logger
	db     BatchSender

	input chan wire.ChatPayload

	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics ArchiverStats
}

// NewArchiver creates an archiver writing to db.
func NewArchiver(cfg ArchiverConfig, db BatchSender, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan wire.ChatPayload, cfg.BufferSize),
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)

	a.wg.Add(1)
	go a.consumeLoop()

	a.wg.Add(1)
	go a.flushLoop()

	a.logger.Info("history archiver started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop waits for the loops, drains the input queue, and performs a
// final flush on the caller's context.
func (a *Archiver) Stop(ctx context.Context) error {
	a.logger.Info("stopping history archiver")

	if a.cancel != nil {
		a.cancel()
	}
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("history archiver stop timed out")
	}

	// The loops are gone; pick up anything still queued and flush with
	// the caller's context, not the cancelled run context.
	a.drain(ctx)
	a.flush(ctx)

	a.logger.Info("history archiver stopped")
	return nil
}

// drain moves whatever remains on the input channel into the batch.
func (a *Archiver) drain(ctx context.Context) {
	for {
		select {
		case msg := <-a.input:
			a.handleMessage(ctx, msg)
		default:
			return
		}
	}
}

// Enqueue hands a stamped message to the archive pipeline. It never
// blocks; when the buffer is full the message is dropped and counted.
func (a *Archiver) Enqueue(msg wire.ChatPayload) bool {
	select {
	case a.input <- msg:
		return true
	default:
		a.batchMu.Lock()
		a.metrics.Dropped++
		a.batchMu.Unlock()
		a.logger.Warn("archive buffer full, dropping message",
			"channel", msg.ChannelID,
			"message_id", msg.MessageID,
		)
		return false
	}
}

// Stats returns current metrics.
func (a *Archiver) Stats() ArchiverStats {
	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	return a.metrics
}

// consumeLoop accumulates rows until the batch is full.
func (a *Archiver) consumeLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.input:
			a.handleMessage(a.ctx, msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flushTicker.C:
			a.flush(a.ctx)
		}
	}
}

// handleMessage transforms and adds a message to the batch.
func (a *Archiver) handleMessage(ctx context.Context, msg wire.ChatPayload) {
	row := a.transform(msg)

	a.batchMu.Lock()
	a.batch = append(a.batch, row)
	shouldFlush := len(a.batch) >= a.cfg.BatchSize
	a.batchMu.Unlock()

	if shouldFlush {
		a.flush(ctx)
	}
}

// transform converts a stamped chat payload to its row.
func (a *Archiver) transform(msg wire.ChatPayload) messageRow {
	return messageRow{
		MessageID: msg.MessageID,
		ChannelID: msg.ChannelID,
		Sender:    msg.Sender,
		Body:      msg.Text,
		SentAt:    msg.SentAt.UTC(),
	}
}

// flush writes the current batch to the database.
func (a *Archiver) flush(ctx context.Context) {
	a.batchMu.Lock()
	if len(a.batch) == 0 {
		a.batchMu.Unlock()
		return
	}

	batch := a.batch
	a.batch = make([]messageRow, 0, a.cfg.BatchSize)
	a.batchMu.Unlock()

	start := time.Now()

	conflicts, err := a.batchInsert(ctx, batch)
	if err != nil {
		a.logger.Error("batch insert failed", "error", err, "count", len(batch))
		a.batchMu.Lock()
		a.metrics.Errors++
		a.batchMu.Unlock()
		return
	}

	a.batchMu.Lock()
	a.metrics.Inserts += int64(len(batch) - conflicts)
	a.metrics.Conflicts += int64(conflicts)
	a.metrics.Flushes++
	a.batchMu.Unlock()

	a.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (a *Archiver) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO messages (message_id, channel_id, sender, body, sent_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id) DO NOTHING
		`, r.MessageID, r.ChannelID, r.Sender, r.Body, r.SentAt)
	}

	results := a.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
