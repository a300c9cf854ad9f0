package core

import (
	"fmt"
	"strings"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is Buy or Sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide converts the wire representation of a side
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return Sell, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// OrderID is the composite identity of an order. Message ids are unique only
// within a single broker feed, so the broker is part of the key.
type OrderID struct {
	ID     int
	Broker string
}

// String implements Stringer interface
func (k OrderID) String() string {
	return fmt.Sprintf("%s/%d", k.Broker, k.ID)
}

// PositionOrder is a resting or incoming limit order. It is a value: changing
// the amount, price or timestamp produces a new PositionOrder with the same key.
type PositionOrder struct {
	ID        int    `json:"id"`
	Broker    string `json:"broker"`
	Client    string `json:"client"`
	Product   string `json:"product"`
	Side      Side   `json:"side"`
	Timestamp int64  `json:"timestamp"`
	Amount    int    `json:"amount"`
	Price     int    `json:"price"`
}

// Key returns the composite identity of the order
func (o PositionOrder) Key() OrderID {
	return OrderID{ID: o.ID, Broker: o.Broker}
}

// Validate checks the fields a tradable order needs
func (o PositionOrder) Validate() error {
	switch {
	case o.ID < 1:
		return ErrInvalidID
	case o.Broker == "":
		return ErrMissingBroker
	case o.Client == "":
		return ErrMissingClient
	case o.Product == "":
		return ErrMissingProduct
	case !o.Side.Valid():
		return ErrInvalidSide
	case o.Amount <= 0:
		return ErrInvalidAmount
	case o.Price <= 0:
		return ErrInvalidPrice
	}
	return nil
}

// String implements Stringer interface
func (o PositionOrder) String() string {
	return fmt.Sprintf("%s %s %s %d@%d (client=%s ts=%d)",
		o.Key(), o.Product, o.Side, o.Amount, o.Price, o.Client, o.Timestamp)
}
