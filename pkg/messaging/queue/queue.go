// Package queue publishes exchange results through an IBM/sarama sync
// producer. Values are protobuf-encoded google.protobuf.Struct messages.
package queue

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/messaging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const maxRetry = 5

// newSyncProducer is replaced in tests
var newSyncProducer = sarama.NewSyncProducer

// QueueResultPublisher implements messaging.ResultPublisher for sending
// results to Kafka
type QueueResultPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewQueueResultPublisher connects a sync producer to the brokers
func NewQueueResultPublisher(brokers []string, topic string) (*QueueResultPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry

	producer, err := newSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &QueueResultPublisher{
		producer: producer,
		topic:    topic,
	}, nil
}

// PublishResult sends the result as one message keyed by run id
func (q *QueueResultPublisher) PublishResult(ctx context.Context, runID string, result *core.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := EncodeResult(runID, result)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(runID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/x-protobuf; messageType=google.protobuf.Struct")},
		},
	}

	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send result to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (q *QueueResultPublisher) Close() error {
	return q.producer.Close()
}

// EncodeResult serializes a result as a protobuf Struct
func EncodeResult(runID string, result *core.Result) ([]byte, error) {
	books := make([]interface{}, 0, len(result.OrderBooks))
	for _, b := range result.OrderBooks {
		books = append(books, map[string]interface{}{
			"product":     b.Product,
			"buyEntries":  entries(b.Buy),
			"sellEntries": entries(b.Sell),
		})
	}

	txs := make([]interface{}, 0, len(result.Transactions))
	for _, tx := range result.Transactions {
		txs = append(txs, map[string]interface{}{
			"id":         tx.ID,
			"product":    tx.Product,
			"amount":     tx.Amount,
			"price":      tx.Price,
			"brokerBuy":  tx.BrokerBuy,
			"clientBuy":  tx.ClientBuy,
			"brokerSell": tx.BrokerSell,
			"clientSell": tx.ClientSell,
		})
	}

	msg, err := structpb.NewStruct(map[string]interface{}{
		"runId":        runID,
		"orderBooks":   books,
		"transactions": txs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build result message: %w", err)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result message: %w", err)
	}
	return data, nil
}

// DecodeResult parses a message produced by EncodeResult
func DecodeResult(data []byte) (string, *core.Result, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal result message: %w", err)
	}

	fields := msg.GetFields()
	result := &core.Result{
		OrderBooks:   []core.OrderBook{},
		Transactions: []core.Transaction{},
	}

	for _, v := range fields["orderBooks"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		result.OrderBooks = append(result.OrderBooks, core.OrderBook{
			Product: f["product"].GetStringValue(),
			Buy:     decodeEntries(f["buyEntries"]),
			Sell:    decodeEntries(f["sellEntries"]),
		})
	}

	for _, v := range fields["transactions"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		result.Transactions = append(result.Transactions, core.Transaction{
			ID:         int64(f["id"].GetNumberValue()),
			Product:    f["product"].GetStringValue(),
			Amount:     int(f["amount"].GetNumberValue()),
			Price:      int(f["price"].GetNumberValue()),
			BrokerBuy:  f["brokerBuy"].GetStringValue(),
			ClientBuy:  f["clientBuy"].GetStringValue(),
			BrokerSell: f["brokerSell"].GetStringValue(),
			ClientSell: f["clientSell"].GetStringValue(),
		})
	}

	return fields["runId"].GetStringValue(), result, nil
}

func entries(in []core.OrderEntry) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, e := range in {
		out = append(out, map[string]interface{}{
			"id":     e.ID,
			"broker": e.Broker,
			"client": e.Client,
			"amount": e.Amount,
			"price":  e.Price,
		})
	}
	return out
}

func decodeEntries(v *structpb.Value) []core.OrderEntry {
	values := v.GetListValue().GetValues()
	out := make([]core.OrderEntry, 0, len(values))
	for _, item := range values {
		f := item.GetStructValue().GetFields()
		out = append(out, core.OrderEntry{
			ID:     int(f["id"].GetNumberValue()),
			Broker: f["broker"].GetStringValue(),
			Client: f["client"].GetStringValue(),
			Amount: int(f["amount"].GetNumberValue()),
			Price:  int(f["price"].GetNumberValue()),
		})
	}
	return out
}

var _ messaging.ResultPublisher = (*QueueResultPublisher)(nil)
