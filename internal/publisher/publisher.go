// Package publisher emits exchange events to Kafka so downstream services
// (market data, history, notifications) can follow the book without
// polling the HTTP API.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/outcomex/exchange/internal/model"
)

// Event types.
const (
	EventTrade = "trade"
	EventOrder = "order"
)

// OrderEvent describes an accepted order and what it did to the book.
type OrderEvent struct {
	Kind           string        `json:"kind"` // buy or sell
	UserID         string        `json:"user_id"`
	Symbol         string        `json:"symbol"`
	Outcome        model.Outcome `json:"outcome"`
	Price          int64         `json:"price"`
	Quantity       int64         `json:"quantity"`
	Filled         int64         `json:"filled"`
	Resting        int64         `json:"resting"`
	RestingOutcome model.Outcome `json:"resting_outcome,omitempty"`
	RestingPrice   int64         `json:"resting_price"`
}

// Envelope is the JSON value of every Kafka message.
type Envelope struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher sends exchange events downstream.
type Publisher interface {
	PublishOrder(ctx context.Context, ev OrderEvent) error
	PublishTrades(ctx context.Context, trades []model.Trade) error
	Close() error
}

// Nop discards every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishOrder(context.Context, OrderEvent) error { return nil }

func (Nop) PublishTrades(context.Context, []model.Trade) error { return nil }

func (Nop) Close() error { return nil }

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by symbol so each
// symbol's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func newKafkaPublisher(w messageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: w,
		log:    log.Named("publisher"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PublishOrder publishes one order event.
func (p *KafkaPublisher) PublishOrder(ctx context.Context, ev OrderEvent) error {
	msg, err := p.message(EventOrder, ev.Symbol, ev)
	if err != nil {
		return err
	}
	return p.write(ctx, msg)
}

// PublishTrades publishes one message per trade in a single write.
func (p *KafkaPublisher) PublishTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, tr := range trades {
		msg, err := p.message(EventTrade, tr.Symbol, tr)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, msgs...)
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) message(typ, symbol string, payload any) (kafka.Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("publisher: encode %s: %w", typ, err)
	}
	value, err := json.Marshal(Envelope{
		Type:      typ,
		Symbol:    symbol,
		Timestamp: p.now(),
		Payload:   raw,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("publisher: encode envelope: %w", err)
	}
	return kafka.Message{Key: []byte(symbol), Value: value}, nil
}

func (p *KafkaPublisher) write(ctx context.Context, msgs ...kafka.Message) error {
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("failed to publish events", zap.Int("count", len(msgs)), zap.Error(err))
		return fmt.Errorf("publisher: write: %w", err)
	}
	return nil
}
