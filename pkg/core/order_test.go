package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideString(t *testing.T) {
	tests := []struct {
		name string
		side Side
		want string
	}{
		{"Buy", Buy, "BUY"},
		{"Sell", Sell, "SELL"},
		{"Invalid", Side(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.side.String(); got != tt.want {
				t.Errorf("Side.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	side, err := ParseSide("buy")
	require.NoError(t, err)
	assert.Equal(t, Buy, side)

	side, err = ParseSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, Sell, side)

	_, err = ParseSide("HOLD")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func validOrder() PositionOrder {
	return PositionOrder{
		ID:        1,
		Broker:    "B1",
		Client:    "c1",
		Product:   "AAPL",
		Side:      Buy,
		Timestamp: 1,
		Amount:    10,
		Price:     100,
	}
}

func TestPositionOrderValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *PositionOrder)
		want   error
	}{
		{"valid", func(o *PositionOrder) {}, nil},
		{"zero id", func(o *PositionOrder) { o.ID = 0 }, ErrInvalidID},
		{"no broker", func(o *PositionOrder) { o.Broker = "" }, ErrMissingBroker},
		{"no client", func(o *PositionOrder) { o.Client = "" }, ErrMissingClient},
		{"no product", func(o *PositionOrder) { o.Product = "" }, ErrMissingProduct},
		{"bad side", func(o *PositionOrder) { o.Side = Side(7) }, ErrInvalidSide},
		{"zero amount", func(o *PositionOrder) { o.Amount = 0 }, ErrInvalidAmount},
		{"negative price", func(o *PositionOrder) { o.Price = -1 }, ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.mutate(&o)
			err := o.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestOrderKeyIncludesBroker(t *testing.T) {
	a := validOrder()
	b := validOrder()
	b.Broker = "B2"

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, OrderID{ID: 1, Broker: "B1"}, a.Key())
	assert.Equal(t, "B1/1", a.Key().String())
}

func TestNewOrderEventConversion(t *testing.T) {
	msg := NewOrder{
		Header:  Header{ID: 3, Broker: "B1", Timestamp: 42},
		Client:  "c1",
		Product: "AAPL",
		Side:    Sell,
		Amount:  5,
		Price:   90,
	}

	order := msg.Order()
	assert.Equal(t, 3, order.ID)
	assert.Equal(t, "B1", order.Broker)
	assert.Equal(t, int64(42), order.Timestamp)
	assert.Equal(t, Sell, order.Side)
	assert.Equal(t, msg.Header, msg.EventHeader())
	assert.Equal(t, "ORDER", Kind(msg))
}

func TestEventKinds(t *testing.T) {
	assert.Equal(t, "CANCEL", Kind(Cancel{}))
	assert.Equal(t, "MODIFICATION", Kind(Modify{}))
	assert.Equal(t, "SHUTDOWN_NOTIFICATION", Kind(Shutdown{}))
	assert.Equal(t, "MALFORMED", Kind(Malformed{}))

	cancel := Cancel{Header: Header{ID: 4, Broker: "B2"}, CancelledID: 1}
	assert.Equal(t, OrderID{ID: 1, Broker: "B2"}, cancel.Target())
}

func TestModifyValidate(t *testing.T) {
	m := Modify{Header: Header{ID: 2, Broker: "B1"}, ModifiedID: 1, Amount: 5, Price: 10}
	assert.NoError(t, m.Validate())

	m.Amount = 0
	assert.ErrorIs(t, m.Validate(), ErrInvalidAmount)

	m.Amount = 5
	m.Price = 0
	assert.ErrorIs(t, m.Validate(), ErrInvalidPrice)

	m.Price = 10
	m.ModifiedID = 0
	assert.ErrorIs(t, m.Validate(), ErrInvalidID)
}
