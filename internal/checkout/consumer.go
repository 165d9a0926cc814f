package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Defaults for the order-placed topic.
const (
	DefaultTopic   = "orders.placed"
	DefaultGroupID = "marketcart"
)

// OrderPlaced is the payload of an order-placed message.
type OrderPlaced struct {
	OrderID  string    `json:"orderId"`
	PlacedAt time.Time `json:"placedAt"`
}

// MessageReader is the subset of *kafka.Reader used by OrderConsumer.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader creates a consumer-group reader for the order-placed topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 1e6,
	})
}

// OrderConsumer clears the cart when another service reports a placed order.
type OrderConsumer struct {
	reader  MessageReader
	bridge  *Bridge
	logger  *slog.Logger
	backoff time.Duration
}

// NewOrderConsumer creates a consumer reading from r.
func NewOrderConsumer(r MessageReader, b *Bridge, logger *slog.Logger) *OrderConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderConsumer{reader: r, bridge: b, logger: logger, backoff: time.Second}
}

// Run reads messages until ctx is cancelled or the reader is closed.
// Malformed messages are logged and skipped.
func (c *OrderConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("order consumer stopping: reader closed")
				return nil
			}
			c.logger.Warn("error reading order message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}
		c.handle(ctx, m)
	}
}

// Close closes the underlying reader.
func (c *OrderConsumer) Close() error {
	return c.reader.Close()
}

func (c *OrderConsumer) handle(ctx context.Context, m kafka.Message) {
	var ev OrderPlaced
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.OrderID == "" {
		c.logger.Warn("skipping malformed order message",
			"topic", m.Topic,
			"partition", m.Partition,
			"offset", m.Offset,
		)
		return
	}
	c.logger.Info("order placed elsewhere", "order_id", ev.OrderID, "offset", m.Offset)
	// Clear failures are logged by the bridge; the message is not redelivered.
	_ = c.bridge.OnOrderPlaced(ctx)
}
