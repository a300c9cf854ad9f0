package core

// Event is one message of a broker feed. The set of implementations is closed:
// NewOrder, Cancel, Modify, Shutdown and Malformed.
type Event interface {
	EventHeader() Header
	isEvent()
}

// Header carries the fields common to every broker message. ID is the
// per-feed sequence number, starting at 1.
type Header struct {
	ID        int    `json:"id"`
	Broker    string `json:"broker"`
	Timestamp int64  `json:"timestamp"`
}

// EventHeader returns the header itself so embedding types satisfy Event
func (h Header) EventHeader() Header {
	return h
}

func (Header) isEvent() {}

// NewOrder submits a limit order
type NewOrder struct {
	Header
	Client  string `json:"client"`
	Product string `json:"product"`
	Side    Side   `json:"side"`
	Amount  int    `json:"amount"`
	Price   int    `json:"price"`
}

// Order converts the message into the order value it creates
func (m NewOrder) Order() PositionOrder {
	return PositionOrder{
		ID:        m.ID,
		Broker:    m.Broker,
		Client:    m.Client,
		Product:   m.Product,
		Side:      m.Side,
		Timestamp: m.Timestamp,
		Amount:    m.Amount,
		Price:     m.Price,
	}
}

// Cancel withdraws a resting order of the same broker
type Cancel struct {
	Header
	CancelledID int `json:"cancelledOrderId"`
}

// Target returns the identity of the order to cancel
func (m Cancel) Target() OrderID {
	return OrderID{ID: m.CancelledID, Broker: m.Broker}
}

// Modify replaces amount and price of a resting order of the same broker
type Modify struct {
	Header
	ModifiedID int `json:"modifiedOrderId"`
	Amount     int `json:"amount"`
	Price      int `json:"price"`
}

// Target returns the identity of the order to modify
func (m Modify) Target() OrderID {
	return OrderID{ID: m.ModifiedID, Broker: m.Broker}
}

// Validate checks the replacement values
func (m Modify) Validate() error {
	switch {
	case m.ModifiedID < 1:
		return ErrInvalidID
	case m.Amount <= 0:
		return ErrInvalidAmount
	case m.Price <= 0:
		return ErrInvalidPrice
	}
	return nil
}

// Shutdown is the last message of a broker feed
type Shutdown struct {
	Header
}

// Malformed is a message whose header could be read but whose payload could
// not. It keeps its place in the feed sequence and is dropped after
// sequencing.
type Malformed struct {
	Header
	Err error `json:"-"`
}

// Kind returns a short name of the event type for logs and metrics
func Kind(ev Event) string {
	switch ev.(type) {
	case NewOrder:
		return "ORDER"
	case Cancel:
		return "CANCEL"
	case Modify:
		return "MODIFICATION"
	case Shutdown:
		return "SHUTDOWN_NOTIFICATION"
	case Malformed:
		return "MALFORMED"
	default:
		return "UNKNOWN"
	}
}
