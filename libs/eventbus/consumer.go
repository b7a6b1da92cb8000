package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arif-mahmud/poolbook/libs/kafkax"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads one topic with inbox dedup. Handler errors are logged and
// the message is skipped; the inbox row already marks it seen, so poison
// messages do not wedge the partition.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	inbox   *Inbox
	handler Handler
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

func NewConsumer(logger *slog.Logger, inbox *Inbox, cfg ConsumerConfig, handler Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  kafkax.SplitBrokers(cfg.Brokers),
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger:  logger.With("topic", cfg.Topic),
		inbox:   inbox,
		handler: handler,
	}
}

// Run blocks until ctx is cancelled. Read errors back off and retry;
// the group coordinator reassigns the partition if we stay gone.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	backoff := time.Second
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		c.consume(ctx, msg)
	}
}

func (c *Consumer) consume(ctx context.Context, msg kafka.Message) {
	ctx = kafkax.ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("eventbus").Start(ctx, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	fresh, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	switch {
	case err != nil:
		c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
	case !fresh:
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
	default:
		if err := c.handler(ctx, msg); err != nil {
			c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
		}
	}
}
