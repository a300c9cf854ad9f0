package exchange

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/messaging"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ex        *Exchange
	publisher *messaging.MockPublisher
}

func newHarness(t *testing.T, brokers ...string) *harness {
	t.Helper()
	pool, err := serial.NewWorkerPool(8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	publisher := messaging.NewMockPublisher()
	ex, err := New(Config{
		Brokers:           brokers,
		Pool:              pool,
		StallWarnInterval: 50 * time.Millisecond,
		Publisher:         publisher,
	})
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	return &harness{ex: ex, publisher: publisher}
}

func (h *harness) wait(t *testing.T) *core.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := h.ex.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func newOrder(broker string, id int, ts int64, product string, side core.Side, amount, price int) core.NewOrder {
	return core.NewOrder{
		Header:  core.Header{ID: id, Broker: broker, Timestamp: ts},
		Client:  "C-" + broker,
		Product: product,
		Side:    side,
		Amount:  amount,
		Price:   price,
	}
}

func shutdown(broker string, id int) core.Shutdown {
	return core.Shutdown{Header: core.Header{ID: id, Broker: broker}}
}

func TestExchangeCrossBrokerTrade(t *testing.T) {
	h := newHarness(t, "B1", "B2")

	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 1, 1, "AAPL", core.Buy, 10, 100)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 2)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B2", 1, 2, "AAPL", core.Sell, 10, 90)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B2", 2)))

	result := h.wait(t)
	assert.Empty(t, result.OrderBooks)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, core.Transaction{
		ID:         1,
		Product:    "AAPL",
		Amount:     10,
		Price:      100,
		BrokerBuy:  "B1",
		ClientBuy:  "C-B1",
		BrokerSell: "B2",
		ClientSell: "C-B2",
	}, result.Transactions[0])
	assert.Equal(t, StateDone, h.ex.State())
}

func TestExchangePartialFill(t *testing.T) {
	h := newHarness(t, "B1")

	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 1, 1, "MSFT", core.Buy, 5, 50)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 2, 2, "MSFT", core.Sell, 10, 50)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 3)))

	result := h.wait(t)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, 5, result.Transactions[0].Amount)
	assert.Equal(t, 50, result.Transactions[0].Price)

	require.Len(t, result.OrderBooks, 1)
	book := result.OrderBooks[0]
	assert.Equal(t, "MSFT", book.Product)
	assert.Empty(t, book.Buy)
	assert.Equal(t, []core.OrderEntry{{ID: 2, Broker: "B1", Client: "C-B1", Amount: 5, Price: 50}}, book.Sell)
}

func TestExchangeNoOrders(t *testing.T) {
	h := newHarness(t, "B1", "B2", "B3")
	for _, b := range []string{"B3", "B1", "B2"} {
		require.NoError(t, h.ex.OnBrokerShutdown(shutdown(b, 1)))
	}

	result := h.wait(t)
	assert.Empty(t, result.Transactions)
	assert.Empty(t, result.OrderBooks)
}

func TestExchangeLifecycle(t *testing.T) {
	pool, err := serial.NewWorkerPool(2)
	require.NoError(t, err)
	defer pool.Close()

	_, err = New(Config{Pool: pool})
	assert.ErrorIs(t, err, ErrNoBrokers)
	_, err = New(Config{Brokers: []string{"B1"}})
	assert.ErrorIs(t, err, ErrNilPool)
	_, err = New(Config{Brokers: []string{"B1", "B1"}, Pool: pool})
	assert.ErrorIs(t, err, ErrDuplicateBroker)
	_, err = New(Config{Brokers: []string{""}, Pool: pool})
	assert.ErrorIs(t, err, ErrEmptyBroker)

	ex, err := New(Config{Brokers: []string{"B1"}, Pool: pool})
	require.NoError(t, err)
	assert.Equal(t, StateNew, ex.State())
	assert.NotEmpty(t, ex.RunID())

	assert.ErrorIs(t, ex.OnNewOrder(newOrder("B1", 1, 1, "X", core.Buy, 1, 1)), ErrNotStarted)
	_, err = ex.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, ex.Start())
	assert.ErrorIs(t, ex.Start(), ErrAlreadyStarted)
	assert.Equal(t, StateActive, ex.State())

	_, err = ex.Result()
	assert.ErrorIs(t, err, ErrResultNotReady)

	require.NoError(t, ex.OnBrokerShutdown(shutdown("B1", 1)))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = ex.Wait(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, ex.OnNewOrder(newOrder("B1", 2, 2, "X", core.Buy, 1, 1)), ErrExchangeDone)
	assert.ErrorIs(t, ex.Start(), ErrExchangeDone)

	result, err := ex.Result()
	require.NoError(t, err)
	assert.Empty(t, result.Transactions)
}

func TestExchangeWaitHonoursContext(t *testing.T) {
	h := newHarness(t, "B1", "B2")
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.ex.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateActive, h.ex.State())
}

func TestExchangeRejectsUnknownBrokerAndBadIDs(t *testing.T) {
	h := newHarness(t, "B1")

	assert.ErrorIs(t, h.ex.OnNewOrder(newOrder("B9", 1, 1, "X", core.Buy, 1, 1)), ErrUnknownBroker)
	assert.Error(t, h.ex.OnNewOrder(newOrder("B1", 0, 1, "X", core.Buy, 1, 1)))

	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 1)))
	result := h.wait(t)
	assert.Empty(t, result.OrderBooks)
}

func TestExchangeDropsMalformedAndContinues(t *testing.T) {
	h := newHarness(t, "B1")

	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 1, 1, "X", core.Buy, 0, 10)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 2, 2, "", core.Buy, 1, 10)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 3, 3, "X", core.Side(7), 1, 10)))
	require.NoError(t, h.ex.OnModify(core.Modify{Header: core.Header{ID: 4, Broker: "B1"}, ModifiedID: 5, Amount: -1, Price: 10}))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 5, 5, "X", core.Buy, 3, 10)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 6)))

	result := h.wait(t)
	require.Len(t, result.OrderBooks, 1)
	assert.Equal(t, []core.OrderEntry{{ID: 5, Broker: "B1", Client: "C-B1", Amount: 3, Price: 10}}, result.OrderBooks[0].Buy)
}

func TestExchangeMalformedEventDoesNotStallFeed(t *testing.T) {
	h := newHarness(t, "B1")

	bad := core.Malformed{Header: core.Header{ID: 2, Broker: "B1", Timestamp: 2}, Err: errors.New("unknown event type")}
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 4)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 3, 3, "X", core.Sell, 2, 10)))
	require.NoError(t, h.ex.Submit(bad))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 1, 1, "X", core.Buy, 5, 9)))

	result := h.wait(t)
	assert.Equal(t, StateDone, h.ex.State())
	assert.Empty(t, result.Transactions)
	require.Len(t, result.OrderBooks, 1)
	assert.Len(t, result.OrderBooks[0].Buy, 1)
	assert.Len(t, result.OrderBooks[0].Sell, 1)
}

func TestExchangeCancelAndModify(t *testing.T) {
	h := newHarness(t, "B1", "B2")

	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 1, 1, "X", core.Buy, 10, 100)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 2, 2, "X", core.Buy, 10, 99)))
	// B2 cannot cancel B1's order 1: the identity is (1, B2)
	require.NoError(t, h.ex.OnCancel(core.Cancel{Header: core.Header{ID: 1, Broker: "B2", Timestamp: 3}, CancelledID: 1}))
	require.NoError(t, h.ex.OnCancel(core.Cancel{Header: core.Header{ID: 3, Broker: "B1", Timestamp: 4}, CancelledID: 2}))
	require.NoError(t, h.ex.OnModify(core.Modify{Header: core.Header{ID: 4, Broker: "B1", Timestamp: 5}, ModifiedID: 1, Amount: 4, Price: 101}))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 5)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B2", 2)))

	result := h.wait(t)
	assert.Empty(t, result.Transactions)
	require.Len(t, result.OrderBooks, 1)
	assert.Equal(t, []core.OrderEntry{{ID: 1, Broker: "B1", Client: "C-B1", Amount: 4, Price: 101}}, result.OrderBooks[0].Buy)
}

func TestExchangeDropsEventsAfterBrokerShutdown(t *testing.T) {
	h := newHarness(t, "B1", "B2")

	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 1)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 2, 2, "X", core.Buy, 10, 100)))
	require.NoError(t, h.ex.OnNewOrder(newOrder("B2", 1, 3, "X", core.Sell, 10, 100)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B2", 2)))

	result := h.wait(t)
	assert.Empty(t, result.Transactions)
	require.Len(t, result.OrderBooks, 1)
	assert.Empty(t, result.OrderBooks[0].Buy)
	assert.Len(t, result.OrderBooks[0].Sell, 1)
}

func TestExchangeBooksSortedByProduct(t *testing.T) {
	h := newHarness(t, "B1")
	for i, product := range []string{"TSLA", "AAPL", "MSFT", "GOOG"} {
		require.NoError(t, h.ex.OnNewOrder(newOrder("B1", i+1, int64(i+1), product, core.Sell, 1, 10)))
	}
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 5)))

	result := h.wait(t)
	products := make([]string, 0, len(result.OrderBooks))
	for _, b := range result.OrderBooks {
		products = append(products, b.Product)
	}
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT", "TSLA"}, products)
}

func TestExchangePublishesOnce(t *testing.T) {
	h := newHarness(t, "B1")
	require.NoError(t, h.ex.OnNewOrder(newOrder("B1", 1, 1, "X", core.Buy, 1, 10)))
	require.NoError(t, h.ex.OnBrokerShutdown(shutdown("B1", 2)))
	result := h.wait(t)

	require.Eventually(t, func() bool { return len(h.publisher.Calls()) == 1 }, 5*time.Second, time.Millisecond)
	call := h.publisher.Calls()[0]
	assert.Equal(t, h.ex.RunID(), call.RunID)
	assert.Same(t, result, call.Result)

	// a duplicate shutdown after Done is rejected, not re-published
	assert.ErrorIs(t, h.ex.OnBrokerShutdown(shutdown("B1", 3)), ErrExchangeDone)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.publisher.Calls(), 1)
}

// scenario is one broker feed in id order
func scenario() []core.Event {
	return []core.Event{
		newOrder("B1", 1, 1, "X", core.Buy, 10, 100),
		newOrder("B1", 2, 2, "X", core.Buy, 5, 101),
		newOrder("B1", 3, 3, "X", core.Sell, 7, 100),
		core.Cancel{Header: core.Header{ID: 4, Broker: "B1", Timestamp: 4}, CancelledID: 1},
		newOrder("B1", 5, 5, "Y", core.Sell, 3, 20),
		core.Modify{Header: core.Header{ID: 6, Broker: "B1", Timestamp: 6}, ModifiedID: 5, Amount: 6, Price: 18},
		newOrder("B1", 7, 7, "Y", core.Buy, 4, 19),
		newOrder("B1", 8, 8, "X", core.Sell, 2, 90),
		core.Cancel{Header: core.Header{ID: 9, Broker: "B1", Timestamp: 9}, CancelledID: 2},
		shutdown("B1", 10),
	}
}

func TestExchangeOutOfOrderDeliveryIsDeterministic(t *testing.T) {
	expected := func() *core.Result {
		h := newHarness(t, "B1")
		for _, ev := range scenario() {
			require.NoError(t, h.ex.Submit(ev))
		}
		return h.wait(t)
	}()

	require.Len(t, expected.Transactions, 3)
	assert.Equal(t, 5, expected.Transactions[0].Amount)
	assert.Equal(t, 101, expected.Transactions[0].Price)
	assert.Equal(t, 2, expected.Transactions[1].Amount)
	assert.Equal(t, 4, expected.Transactions[2].Amount)
	assert.Equal(t, "Y", expected.Transactions[2].Product)
	assert.Equal(t, 18, expected.Transactions[2].Price)

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		events := scenario()
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		h := newHarness(t, "B1")
		var wg sync.WaitGroup
		for _, ev := range events {
			wg.Add(1)
			go func(ev core.Event) {
				defer wg.Done()
				assert.NoError(t, h.ex.Submit(ev))
			}(ev)
		}
		wg.Wait()

		got := h.wait(t)
		assert.Equal(t, expected.OrderBooks, got.OrderBooks, "round %d", round)
		assert.Equal(t, byProduct(expected.Transactions), byProduct(got.Transactions), "round %d", round)
	}
}

// byProduct groups trades per product without ids. Products match
// concurrently, so only the order within one product is deterministic.
func byProduct(txs []core.Transaction) map[string][]core.Transaction {
	out := make(map[string][]core.Transaction)
	for _, tx := range txs {
		tx.ID = 0
		out[tx.Product] = append(out[tx.Product], tx)
	}
	return out
}

func TestExchangeManyBrokersManyProducts(t *testing.T) {
	brokers := []string{"B1", "B2", "B3", "B4"}
	h := newHarness(t, brokers...)

	const perBroker = 200
	var wg sync.WaitGroup
	for bi, broker := range brokers {
		wg.Add(1)
		go func(bi int, broker string) {
			defer wg.Done()
			for id := 1; id <= perBroker; id++ {
				side := core.Buy
				if (id+bi)%2 == 0 {
					side = core.Sell
				}
				product := []string{"P1", "P2", "P3"}[id%3]
				assert.NoError(t, h.ex.Submit(newOrder(broker, id, int64(id), product, side, 1+id%5, 95+id%11)))
			}
			assert.NoError(t, h.ex.Submit(shutdown(broker, perBroker+1)))
		}(bi, broker)
	}
	wg.Wait()

	result := h.wait(t)

	var submitted, traded, resting int
	for id := 1; id <= perBroker; id++ {
		submitted += len(brokers) * (1 + id%5)
	}
	for i, tx := range result.Transactions {
		assert.Equal(t, int64(i+1), tx.ID)
		traded += 2 * tx.Amount
	}
	for _, book := range result.OrderBooks {
		for _, e := range book.Buy {
			resting += e.Amount
		}
		for _, e := range book.Sell {
			resting += e.Amount
		}
		if len(book.Buy) > 0 && len(book.Sell) > 0 {
			assert.Less(t, book.Buy[0].Price, book.Sell[0].Price, book.Product)
		}
	}
	assert.Equal(t, submitted, traded+resting)
}
