// Package engine implements the continuous auction of a single product.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/otel"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEngineStopped is returned for events submitted after Shutdown
var ErrEngineStopped = errors.New("product engine stopped")

// Ledger allocates transaction ids and keeps executed trades
type Ledger interface {
	Record(buy, sell core.PositionOrder, amount, price int) core.Transaction
}

// Index mirrors book membership across products
type Index interface {
	Put(o core.PositionOrder)
	Remove(key core.OrderID)
}

// Config configures an Engine
type Config struct {
	Product string
	// Executor serializes all work of this product
	Executor *serial.Executor
	Ledger   Ledger
	Index    Index
	// Logger defaults to the global logger
	Logger *zerolog.Logger
}

// Engine matches the orders of one product by price-time priority. Every
// mutation of the book runs on the product's serial chain.
type Engine struct {
	product string
	exec    *serial.Executor
	ledger  Ledger
	index   Index
	logger  zerolog.Logger
	metrics *otel.ExchangeMetrics

	// owned by the serial chain
	book *Book

	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan *core.OrderBook
	stopErr  error
}

// New creates an engine with an empty book
func New(cfg Config) *Engine {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Engine{
		product: cfg.Product,
		exec:    cfg.Executor,
		ledger:  cfg.Ledger,
		index:   cfg.Index,
		logger:  logger.With().Str("product", cfg.Product).Logger(),
		metrics: otel.GetExchangeMetrics(),
		book:    NewBook(cfg.Product),
		done:    make(chan *core.OrderBook, 1),
	}
}

// Product returns the product this engine trades
func (e *Engine) Product() string {
	return e.product
}

// OnNewOrder rests the order and matches the book
func (e *Engine) OnNewOrder(o core.PositionOrder) error {
	return e.submit(func() {
		e.logger.Debug().Stringer("order", o).Msg("New order")
		e.book.Insert(o)
		e.match()
	})
}

// OnCancel removes a resting order. An order that is no longer resting is
// left alone.
func (e *Engine) OnCancel(key core.OrderID) error {
	return e.submit(func() {
		if _, ok := e.book.Remove(key); !ok {
			e.logger.Debug().Stringer("key", key).Msg("Cancel of order not resting")
			return
		}
		e.index.Remove(key)
		e.logger.Debug().Stringer("key", key).Msg("Order cancelled")
	})
}

// OnModify replaces a resting order with the modification's amount, price
// and timestamp. The replacement queues behind orders already resting at the
// same price and time. A filled or cancelled order is not brought back.
func (e *Engine) OnModify(m core.Modify) error {
	return e.submit(func() {
		old, ok := e.book.Get(m.Target())
		if !ok {
			e.logger.Debug().Stringer("key", m.Target()).Msg("Modification of order not resting")
			return
		}

		replacement, ok := core.ApplyModification(old, m)
		if !ok {
			e.logger.Warn().Stringer("key", m.Target()).Int("amount", m.Amount).Int("price", m.Price).
				Msg("Modification rejected, order left as is")
			return
		}
		e.book.Remove(old.Key())
		e.book.Insert(replacement)
		e.index.Put(replacement)
		e.logger.Debug().Stringer("order", replacement).Msg("Order modified")
		e.match()
	})
}

// Shutdown stops the engine and returns a channel that receives the final
// snapshot, nil when the book is empty, and is then closed. Events queued
// before Shutdown are processed first. Repeated calls return the same channel.
func (e *Engine) Shutdown() (<-chan *core.OrderBook, error) {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		e.stopErr = e.exec.Submit(func() {
			defer close(e.done)

			snap := e.book.Snapshot()
			e.book.Clear()
			e.logger.Debug().Bool("empty", snap.IsEmpty()).Msg("Engine finalized")
			e.done <- snap
		})
	})
	return e.done, e.stopErr
}

func (e *Engine) submit(task func()) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	return e.exec.Submit(task)
}

// match trades the best bid against the best ask until the book no longer
// crosses. One incoming order may produce several trades.
func (e *Engine) match() {
	if !e.book.Crossed() {
		return
	}

	ctx, span := otel.StartSpan(context.Background(), otel.SpanMatchOrders,
		attribute.String(otel.AttributeProduct, e.product),
	)
	defer span.End()

	trades := 0
	for {
		bid, ask, ok := e.book.best()
		if !ok {
			break
		}
		amount, price, crossed := core.TryMatch(bid.order, ask.order)
		if !crossed {
			break
		}

		tx := e.ledger.Record(bid.order, ask.order, amount, price)
		e.fill(bid, amount)
		e.fill(ask, amount)
		trades++

		e.metrics.RecordTrade(ctx, e.product, amount)
		e.logger.Debug().
			Int64("transaction", tx.ID).
			Int("amount", amount).
			Int("price", price).
			Stringer("buy", bid.order.Key()).
			Stringer("sell", ask.order.Key()).
			Msg("Trade executed")
	}

	otel.AddAttributes(span, attribute.Int(otel.AttributeTradeCount, trades))
}

// fill reduces a matched entry, keeping its priority when some amount remains
func (e *Engine) fill(r resting, traded int) {
	residual, remains := core.Fill(r.order, traded)
	if !remains {
		e.book.Remove(r.order.Key())
		e.index.Remove(r.order.Key())
		return
	}
	e.book.replace(r, residual)
	e.index.Put(residual)
}
