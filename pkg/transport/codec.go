// Package transport converts broker wire messages into exchange events and
// feeds them from Kafka.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erain9/exchango/pkg/core"
)

// Message types on the wire
const (
	TypeOrder        = "ORDER"
	TypeCancel       = "CANCEL"
	TypeModification = "MODIFICATION"
	TypeShutdown     = "SHUTDOWN_NOTIFICATION"
)

// ErrMalformed wraps every decoding failure
var ErrMalformed = errors.New("malformed message")

// Message is the wire form of every broker event, used for JSON feeds and
// YAML scenario files. Fields not used by a type are omitted.
type Message struct {
	Type        string `json:"type" yaml:"type"`
	ID          int    `json:"id" yaml:"id"`
	Broker      string `json:"broker" yaml:"broker"`
	Timestamp   int64  `json:"timestamp" yaml:"timestamp"`
	Client      string `json:"client,omitempty" yaml:"client,omitempty"`
	Product     string `json:"product,omitempty" yaml:"product,omitempty"`
	Side        string `json:"side,omitempty" yaml:"side,omitempty"`
	Amount      int    `json:"amount,omitempty" yaml:"amount,omitempty"`
	Price       int    `json:"price,omitempty" yaml:"price,omitempty"`
	CancelledID int    `json:"cancelledOrderId,omitempty" yaml:"cancelledOrderId,omitempty"`
	ModifiedID  int    `json:"modifiedOrderId,omitempty" yaml:"modifiedOrderId,omitempty"`
}

// Decode parses one JSON message. An error is returned only when the message
// cannot be placed in a feed. A message with a usable id and broker but a bad
// payload decodes to core.Malformed so it still takes its sequence slot.
func Decode(data []byte) (core.Event, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		h, ok := decodeHeader(data)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return core.Malformed{Header: h, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}, nil
	}
	return m.Event()
}

// decodeHeader reads id, broker and timestamp field by field, ignoring the
// rest of the message
func decodeHeader(data []byte) (core.Header, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return core.Header{}, false
	}

	var h core.Header
	if err := json.Unmarshal(fields["id"], &h.ID); err != nil {
		return core.Header{}, false
	}
	if err := json.Unmarshal(fields["broker"], &h.Broker); err != nil {
		return core.Header{}, false
	}
	_ = json.Unmarshal(fields["timestamp"], &h.Timestamp)
	return h, h.ID >= 1 && h.Broker != ""
}

// Event converts the message into its typed event. An unknown type becomes
// core.Malformed; only a message without a broker is an error.
func (m Message) Event() (core.Event, error) {
	if m.Broker == "" {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, core.ErrMissingBroker)
	}
	h := core.Header{ID: m.ID, Broker: m.Broker, Timestamp: m.Timestamp}

	switch m.Type {
	case TypeOrder:
		side, err := core.ParseSide(m.Side)
		if err != nil {
			// the order still occupies its sequence id and is dropped by the exchange
			side = core.Side(-1)
		}
		return core.NewOrder{
			Header:  h,
			Client:  m.Client,
			Product: m.Product,
			Side:    side,
			Amount:  m.Amount,
			Price:   m.Price,
		}, nil
	case TypeCancel:
		return core.Cancel{Header: h, CancelledID: m.CancelledID}, nil
	case TypeModification:
		return core.Modify{Header: h, ModifiedID: m.ModifiedID, Amount: m.Amount, Price: m.Price}, nil
	case TypeShutdown:
		return core.Shutdown{Header: h}, nil
	default:
		return core.Malformed{
			Header: h,
			Err:    fmt.Errorf("%w: %v %q", ErrMalformed, core.ErrUnknownEventType, m.Type),
		}, nil
	}
}

// Encode renders an event as JSON
func Encode(ev core.Event) ([]byte, error) {
	m, err := NewMessage(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// NewMessage converts a typed event into its wire form
func NewMessage(ev core.Event) (Message, error) {
	h := ev.EventHeader()
	m := Message{ID: h.ID, Broker: h.Broker, Timestamp: h.Timestamp}

	switch e := ev.(type) {
	case core.NewOrder:
		m.Type = TypeOrder
		m.Client = e.Client
		m.Product = e.Product
		m.Side = e.Side.String()
		m.Amount = e.Amount
		m.Price = e.Price
	case core.Cancel:
		m.Type = TypeCancel
		m.CancelledID = e.CancelledID
	case core.Modify:
		m.Type = TypeModification
		m.ModifiedID = e.ModifiedID
		m.Amount = e.Amount
		m.Price = e.Price
	case core.Shutdown:
		m.Type = TypeShutdown
	default:
		return Message{}, fmt.Errorf("%w: %T", core.ErrUnknownEventType, ev)
	}
	return m, nil
}
