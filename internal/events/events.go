// Package events publishes transaction lifecycle events after commit.
// Delivery is best effort: a failed publish is logged and never touches the
// ledger.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

const DefaultChannel = "ledger.transactions"

type Event struct {
	Type        string             `json:"type"` // transaction.completed | transaction.failed | transaction.cancelled
	Transaction models.Transaction `json:"transaction"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

func NewEvent(t models.Transaction, now time.Time) Event {
	return Event{Type: "transaction." + string(t.Status), Transaction: t, OccurredAt: now}
}

type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct{ log *slog.Logger }

func NewLogPublisher(log *slog.Logger) *LogPublisher { return &LogPublisher{log: log} }

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.InfoContext(ctx, "transaction event",
		"type", e.Type,
		"ref", e.Transaction.Reference,
		"kind", e.Transaction.Kind,
		"amount", e.Transaction.Amount.String(),
		"currency", e.Transaction.Currency,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher fans events out on a pub/sub channel.
type RedisPublisher struct {
	rdb     redisPublisher
	channel string
}

func NewRedisPublisher(rdb redisPublisher, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *RedisPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by wallet id, so one wallet's events stay
// ordered within a partition.
type KafkaPublisher struct{ w messageWriter }

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Transaction.WalletID.String()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "reference", Value: []byte(e.Transaction.Reference)},
		},
		Time: e.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
