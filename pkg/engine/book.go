package engine

import (
	"github.com/erain9/exchango/pkg/core"
	"github.com/google/btree"
)

const btreeDegree = 32

// resting is a book entry. seq is the per-book arrival sequence, the last
// priority key after price and timestamp.
type resting struct {
	order core.PositionOrder
	seq   uint64
}

func bidLess(a, b resting) bool {
	if a.order.Price != b.order.Price {
		return a.order.Price > b.order.Price
	}
	if a.order.Timestamp != b.order.Timestamp {
		return a.order.Timestamp < b.order.Timestamp
	}
	return a.seq < b.seq
}

func askLess(a, b resting) bool {
	if a.order.Price != b.order.Price {
		return a.order.Price < b.order.Price
	}
	if a.order.Timestamp != b.order.Timestamp {
		return a.order.Timestamp < b.order.Timestamp
	}
	return a.seq < b.seq
}

// Book holds the resting orders of one product. The best order of each side
// is the minimum of its tree. Book is not safe for concurrent use.
type Book struct {
	product string
	bids    *btree.BTreeG[resting]
	asks    *btree.BTreeG[resting]
	orders  map[core.OrderID]resting
	seq     uint64
}

// NewBook creates an empty book
func NewBook(product string) *Book {
	return &Book{
		product: product,
		bids:    btree.NewG(btreeDegree, bidLess),
		asks:    btree.NewG(btreeDegree, askLess),
		orders:  make(map[core.OrderID]resting),
	}
}

// Insert adds an order behind every resting order of equal price and time
func (b *Book) Insert(o core.PositionOrder) {
	b.seq++
	b.place(resting{order: o, seq: b.seq})
}

// replace keeps the priority of an entry while changing its order value
func (b *Book) replace(r resting, o core.PositionOrder) {
	r.order = o
	b.place(r)
}

func (b *Book) place(r resting) {
	if old, ok := b.orders[r.order.Key()]; ok {
		b.side(old.order.Side).Delete(old)
	}
	b.orders[r.order.Key()] = r
	b.side(r.order.Side).ReplaceOrInsert(r)
}

// Remove takes an order out of the book. ok is false when it is not resting.
func (b *Book) Remove(key core.OrderID) (core.PositionOrder, bool) {
	r, ok := b.orders[key]
	if !ok {
		return core.PositionOrder{}, false
	}
	delete(b.orders, key)
	b.side(r.order.Side).Delete(r)
	return r.order, true
}

// Get returns the resting order with the given identity
func (b *Book) Get(key core.OrderID) (core.PositionOrder, bool) {
	r, ok := b.orders[key]
	return r.order, ok
}

// Len returns the number of resting orders on both sides
func (b *Book) Len() int {
	return len(b.orders)
}

// Crossed reports whether the best bid reaches the best ask
func (b *Book) Crossed() bool {
	bid, okBid := b.bids.Min()
	ask, okAsk := b.asks.Min()
	return okBid && okAsk && core.Crosses(bid.order, ask.order)
}

func (b *Book) best() (bid, ask resting, ok bool) {
	bid, okBid := b.bids.Min()
	ask, okAsk := b.asks.Min()
	return bid, ask, okBid && okAsk
}

// Snapshot lists resting orders best first. It returns nil for an empty book.
func (b *Book) Snapshot() *core.OrderBook {
	if len(b.orders) == 0 {
		return nil
	}

	snap := &core.OrderBook{
		Product: b.product,
		Buy:     make([]core.OrderEntry, 0, b.bids.Len()),
		Sell:    make([]core.OrderEntry, 0, b.asks.Len()),
	}
	b.bids.Ascend(func(r resting) bool {
		snap.Buy = append(snap.Buy, core.NewOrderEntry(r.order))
		return true
	})
	b.asks.Ascend(func(r resting) bool {
		snap.Sell = append(snap.Sell, core.NewOrderEntry(r.order))
		return true
	})
	return snap
}

// Clear drops every resting order
func (b *Book) Clear() {
	b.bids.Clear(false)
	b.asks.Clear(false)
	b.orders = make(map[core.OrderID]resting)
}

func (b *Book) side(s core.Side) *btree.BTreeG[resting] {
	if s == core.Buy {
		return b.bids
	}
	return b.asks
}
