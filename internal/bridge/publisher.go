package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/vmihailenco/msgpack/v5"
)

// Config configures the event bridge.
type Config struct {
	URL            string        // amqp:// connection string
	Exchange       string        // Topic exchange events are published to
	BufferSize     int           // Publish queue capacity
	PublishTimeout time.Duration // Per-publish deadline
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	return Config{
		Exchange:       "teamloop.events",
		BufferSize:     1024,
		PublishTimeout: 5 * time.Second,
	}
}

// Event is one outbound fan-out record. Body carries the original wire
// frame; routing is by Kind.
type Event struct {
	ID         string    `msgpack:"id"`
	Kind       string    `msgpack:"kind"`
	Channel    string    `msgpack:"channel,omitempty"`
	Session    string    `msgpack:"session,omitempty"`
	User       string    `msgpack:"user"`
	OccurredAt time.Time `msgpack:"occurred_at"`
	Body       []byte    `msgpack:"body"`
}

// Stats provides bridge counters.
type Stats struct {
	Published int64
	Dropped   int64
	Errors    int64
}

// Publisher drains a buffered event queue into a RabbitMQ exchange.
type Publisher struct {
	cfg    Config
	logger *slog.Logger

	conn    *amqp091.Connection
	channel *amqp091.Channel

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Stats
}

// NewPublisher creates a publisher. It does not connect until Start.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
	}
}

// Start dials the broker, declares the exchange, and begins draining.
func (p *Publisher) Start(ctx context.Context) error {
	conn, err := amqp091.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		p.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.publishLoop()

	p.logger.Info("event bridge started", "exchange", p.cfg.Exchange)
	return nil
}

// Stop drains queued events and closes the broker connection.
func (p *Publisher) Stop(ctx context.Context) error {
	p.logger.Info("stopping event bridge")

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("event bridge stop timed out")
	}

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}

	p.logger.Info("event bridge stopped")
	return nil
}

// Publish offers an event to the queue. Never blocks; a full queue
// drops the event and counts it.
func (p *Publisher) Publish(ev Event) bool {
	select {
	case p.events <- ev:
		return true
	default:
		p.mu.Lock()
		p.metrics.Dropped++
		p.mu.Unlock()
		p.logger.Warn("publish queue full, dropping event", "kind", ev.Kind)
		return false
	}
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Connected reports whether the broker connection is up.
func (p *Publisher) Connected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// publishLoop drains the queue. On shutdown it flushes what remains.
func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case ev := <-p.events:
			p.publish(ev)
		}
	}
}

// drain publishes whatever is still queued after cancellation.
func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.events:
			p.publish(ev)
		default:
			return
		}
	}
}

// publish encodes one event and ships it to the exchange.
func (p *Publisher) publish(ev Event) {
	body, err := msgpack.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode event", "kind", ev.Kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		ev.Kind, // routing key
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType: "application/msgpack",
			MessageId:   ev.ID,
			Timestamp:   ev.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		p.mu.Lock()
		p.metrics.Errors++
		p.mu.Unlock()
		p.logger.Error("publish failed", "kind", ev.Kind, "error", err)
		return
	}

	p.mu.Lock()
	p.metrics.Published++
	p.mu.Unlock()
}
