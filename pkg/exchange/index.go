package exchange

import (
	"sync"

	"github.com/erain9/exchango/pkg/core"
)

// OrderIndex maps order identities to the resting order value across all
// products. Product engines update it concurrently.
type OrderIndex struct {
	mu     sync.RWMutex
	orders map[core.OrderID]core.PositionOrder
}

// NewOrderIndex creates an empty index
func NewOrderIndex() *OrderIndex {
	return &OrderIndex{orders: make(map[core.OrderID]core.PositionOrder)}
}

// Put stores or replaces the order under its identity
func (x *OrderIndex) Put(o core.PositionOrder) {
	x.mu.Lock()
	x.orders[o.Key()] = o
	x.mu.Unlock()
}

// Remove deletes an identity; removing an absent key is a no-op
func (x *OrderIndex) Remove(key core.OrderID) {
	x.mu.Lock()
	delete(x.orders, key)
	x.mu.Unlock()
}

// Lookup returns the resting order with the given identity
func (x *OrderIndex) Lookup(key core.OrderID) (core.PositionOrder, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	o, ok := x.orders[key]
	return o, ok
}

// Len returns the number of indexed orders
func (x *OrderIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.orders)
}

// Clear drops every entry
func (x *OrderIndex) Clear() {
	x.mu.Lock()
	x.orders = make(map[core.OrderID]core.PositionOrder)
	x.mu.Unlock()
}
