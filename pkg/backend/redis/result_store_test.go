package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) *ResultStore {
	t.Helper()
	client := testutil.RedisClient(t)
	prefix := fmt.Sprintf("test:exchango:%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+":*").Result()
		if err == nil && len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	return NewResultStore(client, prefix, zaptest.NewLogger(t))
}

func TestResultStoreKeys(t *testing.T) {
	store := NewResultStore(nil, "ex", nil)
	assert.Equal(t, "ex:run:r1:transactions", store.transactionsKey("r1"))
	assert.Equal(t, "ex:run:r1:books", store.booksKey("r1"))
	assert.Equal(t, "ex:runs", store.runsKey())
	assert.NotNil(t, store.logger)
}

func TestResultStoreRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	result := &core.Result{
		OrderBooks: []core.OrderBook{
			{Product: "MSFT", Sell: []core.OrderEntry{{ID: 2, Broker: "B1", Client: "C1", Amount: 5, Price: 50}}},
			{Product: "AAPL", Buy: []core.OrderEntry{{ID: 4, Broker: "B2", Client: "C2", Amount: 1, Price: 99}}},
		},
		Transactions: []core.Transaction{
			{ID: 1, Product: "MSFT", Amount: 5, Price: 50, BrokerBuy: "B1", ClientBuy: "C1", BrokerSell: "B1", ClientSell: "C1"},
			{ID: 2, Product: "AAPL", Amount: 3, Price: 100, BrokerBuy: "B2", ClientBuy: "C2", BrokerSell: "B1", ClientSell: "C1"},
		},
	}
	require.NoError(t, store.PublishResult(ctx, "run-1", result))

	got, err := store.LoadResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, result.Transactions, got.Transactions)
	require.Len(t, got.OrderBooks, 2)
	assert.Equal(t, "AAPL", got.OrderBooks[0].Product)
	assert.Equal(t, result.OrderBooks[0].Sell, got.OrderBooks[1].Sell)

	// republishing replaces the run instead of appending to it
	require.NoError(t, store.PublishResult(ctx, "run-1", &core.Result{}))
	got, err = store.LoadResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got.Transactions)
	assert.Empty(t, got.OrderBooks)

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, runs)
}

func TestResultStoreMissingRun(t *testing.T) {
	store := newStore(t)
	_, err := store.LoadResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
