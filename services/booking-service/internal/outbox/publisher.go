package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/robertbravery/FurryFriends-sub000/libs/kafkax"
	otelx "github.com/robertbravery/FurryFriends-sub000/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Source hands out batches of unpublished events. Repository implements it for
// Postgres; the in-memory store implements it for local runs.
type Source interface {
	PublishPending(ctx context.Context, limit int, fn func(context.Context, []Record) error) (int, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	src       Source
	writer    MessageWriter
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
	onPublish func(n int)
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
	// OnPublish, if set, is called with the size of every published batch.
	OnPublish func(n int)
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(src Source, writer MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		src:       src,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		onPublish: cfg.OnPublish,
	}
}

// Run polls until ctx is done. A failed batch is logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("close kafka writer", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := p.PublishOnce(ctx)
				if err != nil {
					p.logger.Error("outbox publish failed", "err", err)
					break
				}
				// drain the backlog before sleeping again
				if n < p.batchSize {
					break
				}
			}
		}
	}
}

func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	n, err := p.src.PublishPending(ctx, p.batchSize, p.write)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Debug("outbox batch published", "count", n)
		if p.onPublish != nil {
			p.onPublish(n)
		}
	}
	return n, nil
}

func (p *Publisher) write(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.ExtractTraceContext(ctx, r.Traceparent, r.Tracestate)
		msgs = append(msgs, kafka.Message{
			Topic:   r.EventType,
			Key:     []byte(r.AggregateID),
			Value:   r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, kafkax.EventHeaders(r.EventID, r.EventType, r.AggregateID)),
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}
