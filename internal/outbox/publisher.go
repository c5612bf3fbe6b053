package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/reverb-labs/schedcore/libs/db"
	"github.com/reverb-labs/schedcore/libs/kafkax"
	otelx "github.com/reverb-labs/schedcore/libs/otel"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
)

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.PollEvery <= 0 {
		c.PollEvery = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Publisher drains the outbox table to Kafka. It is the only background
// worker the engine runs; every scheduling operation itself is request-driven.
type Publisher struct {
	pool    *db.Pool
	repo    *Repository
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	return &Publisher{
		pool:    pool,
		repo:    repo,
		logger:  logger,
		brokers: kafkax.SplitBrokers(cfg.Brokers),
		cfg:     cfg.withDefaults(),
	}
}

// Run polls until ctx is cancelled. With no brokers configured it returns
// immediately, which keeps broker-less dev setups bookable.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(p.brokers...),
		Balancer: &kafka.Hash{},
	}
	defer writer.Close()

	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drain(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// drain claims one batch, ships it, and marks it published in the same
// claiming transaction. A crash between WriteMessages and commit re-delivers
// the batch; consumers dedupe on the event_id header.
func (p *Publisher) drain(ctx context.Context, writer *kafka.Writer) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	// One message per record, one write for the batch. The event type doubles
	// as the topic, so consumers subscribe per lifecycle transition.
	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		msgs = append(msgs, kafka.Message{
			Topic: r.EventType,
			Key:   []byte(r.AggregateID),
			Value: r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, []kafka.Header{
				{Key: "event_id", Value: []byte(r.EventID)},
				{Key: "event_type", Value: []byte(r.EventType)},
			}),
		})
		ids = append(ids, r.ID)
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}

	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.logger.Debug("outbox drained", "published", len(ids))
	return nil
}
