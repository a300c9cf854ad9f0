// Package kafka publishes exchange results as JSON with segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/messaging"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// ResultMessage is the JSON value of a published result
type ResultMessage struct {
	RunID        string             `json:"runId"`
	PublishedAt  time.Time          `json:"publishedAt"`
	OrderBooks   []core.OrderBook   `json:"orderBooks"`
	Transactions []core.Transaction `json:"transactions"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaResultPublisher implements messaging.ResultPublisher using Kafka
type KafkaResultPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaResultPublisher creates a publisher writing to topic
func NewKafkaResultPublisher(brokerAddr, topic string) *KafkaResultPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaResultPublisher{
		writer: writer,
		topic:  topic,
	}
}

// PublishResult sends the result as one message keyed by run id
func (k *KafkaResultPublisher) PublishResult(ctx context.Context, runID string, result *core.Result) error {
	now := time.Now()
	data, err := json.Marshal(ResultMessage{
		RunID:        runID,
		PublishedAt:  now,
		OrderBooks:   result.OrderBooks,
		Transactions: result.Transactions,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(runID),
		Value: data,
		Time:  now,
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send result to Kafka topic %s: %w", k.topic, err)
	}
	return nil
}

// Close closes the Kafka writer
func (k *KafkaResultPublisher) Close() error {
	return k.writer.Close()
}

var _ messaging.ResultPublisher = (*KafkaResultPublisher)(nil)
