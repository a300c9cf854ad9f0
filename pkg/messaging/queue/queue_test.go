package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/erain9/exchango/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMockProducer(t *testing.T) *mockProducer {
	t.Helper()
	mockProd := &mockProducer{}

	oldNewSyncProducer := newSyncProducer
	t.Cleanup(func() { newSyncProducer = oldNewSyncProducer })
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		if !config.Producer.Return.Successes {
			return nil, errors.New("sync producer needs Return.Successes")
		}
		return mockProd, nil
	}
	return mockProd
}

func sampleResult() *core.Result {
	return &core.Result{
		OrderBooks: []core.OrderBook{{
			Product: "AAPL",
			Buy:     []core.OrderEntry{{ID: 3, Broker: "B1", Client: "C1", Amount: 2, Price: 101}},
			Sell: []core.OrderEntry{
				{ID: 1, Broker: "B2", Client: "C2", Amount: 5, Price: 103},
				{ID: 7, Broker: "B2", Client: "C3", Amount: 1, Price: 104},
			},
		}},
		Transactions: []core.Transaction{{
			ID: 1, Product: "AAPL", Amount: 10, Price: 100,
			BrokerBuy: "B1", ClientBuy: "C1", BrokerSell: "B2", ClientSell: "C2",
		}},
	}
}

func TestQueueResultPublisher_PublishResult(t *testing.T) {
	mockProd := withMockProducer(t)

	publisher, err := NewQueueResultPublisher([]string{"localhost:9092"}, "exchange-results")
	require.NoError(t, err)

	result := sampleResult()
	require.NoError(t, publisher.PublishResult(context.Background(), "run-42", result))

	require.Len(t, mockProd.sentMessages, 1)
	msg := mockProd.sentMessages[0]
	require.Equal(t, "exchange-results", msg.Topic)
	require.Equal(t, sarama.StringEncoder("run-42"), msg.Key)

	runID, decoded, err := DecodeResult(msg.Value.(sarama.ByteEncoder))
	require.NoError(t, err)
	assert.Equal(t, "run-42", runID)
	assert.Equal(t, result, decoded)

	require.NoError(t, publisher.Close())
	assert.True(t, mockProd.closed)
}

func TestQueueResultPublisher_EmptyResult(t *testing.T) {
	mockProd := withMockProducer(t)
	publisher, err := NewQueueResultPublisher([]string{"localhost:9092"}, "exchange-results")
	require.NoError(t, err)

	require.NoError(t, publisher.PublishResult(context.Background(), "run-0", &core.Result{}))
	_, decoded, err := DecodeResult(mockProd.sentMessages[0].Value.(sarama.ByteEncoder))
	require.NoError(t, err)
	assert.Empty(t, decoded.OrderBooks)
	assert.Empty(t, decoded.Transactions)
}

func TestQueueResultPublisher_Errors(t *testing.T) {
	mockProd := withMockProducer(t)
	publisher, err := NewQueueResultPublisher([]string{"localhost:9092"}, "exchange-results")
	require.NoError(t, err)

	mockProd.failWith = errors.New("broker down")
	err = publisher.PublishResult(context.Background(), "run-1", sampleResult())
	assert.ErrorIs(t, err, mockProd.failWith)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, publisher.PublishResult(ctx, "run-1", sampleResult()), context.Canceled)

	newSyncProducer = func([]string, *sarama.Config) (sarama.SyncProducer, error) {
		return nil, errors.New("no brokers")
	}
	_, err = NewQueueResultPublisher([]string{"localhost:9092"}, "exchange-results")
	assert.Error(t, err)
}

func TestDecodeResultRejectsGarbage(t *testing.T) {
	_, _, err := DecodeResult([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
