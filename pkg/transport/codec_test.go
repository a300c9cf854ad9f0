package transport

import (
	"testing"

	"github.com/erain9/exchango/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOrder(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"ORDER","id":3,"broker":"B1","timestamp":17,
		"client":"C1","product":"AAPL","side":"buy","amount":10,"price":100}`))
	require.NoError(t, err)

	assert.Equal(t, core.NewOrder{
		Header:  core.Header{ID: 3, Broker: "B1", Timestamp: 17},
		Client:  "C1",
		Product: "AAPL",
		Side:    core.Buy,
		Amount:  10,
		Price:   100,
	}, ev)
}

func TestDecodeOtherTypes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want core.Event
	}{
		{
			name: "cancel",
			in:   `{"type":"CANCEL","id":2,"broker":"B2","timestamp":5,"cancelledOrderId":1}`,
			want: core.Cancel{Header: core.Header{ID: 2, Broker: "B2", Timestamp: 5}, CancelledID: 1},
		},
		{
			name: "modification",
			in:   `{"type":"MODIFICATION","id":4,"broker":"B2","timestamp":6,"modifiedOrderId":1,"amount":3,"price":90}`,
			want: core.Modify{Header: core.Header{ID: 4, Broker: "B2", Timestamp: 6}, ModifiedID: 1, Amount: 3, Price: 90},
		},
		{
			name: "shutdown",
			in:   `{"type":"SHUTDOWN_NOTIFICATION","id":9,"broker":"B2","timestamp":7}`,
			want: core.Shutdown{Header: core.Header{ID: 9, Broker: "B2", Timestamp: 7}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeWithoutUsableHeader(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"type":"ORDER","id":1}`,
		`{"type":"ORDER","id":"one","broker":"B1"}`,
		`{"type":"HEARTBEAT","id":0,"broker":"B1","amount":"x"}`,
	} {
		_, err := Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestDecodeBadPayloadKeepsSequenceSlot(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want core.Header
	}{
		{
			name: "unknown type",
			in:   `{"type":"HEARTBEAT","id":2,"broker":"B1","timestamp":4}`,
			want: core.Header{ID: 2, Broker: "B1", Timestamp: 4},
		},
		{
			name: "field type error",
			in:   `{"type":"ORDER","id":3,"broker":"B1","timestamp":5,"amount":"ten"}`,
			want: core.Header{ID: 3, Broker: "B1", Timestamp: 5},
		},
		{
			name: "bad timestamp",
			in:   `{"type":"CANCEL","id":4,"broker":"B2","timestamp":"later"}`,
			want: core.Header{ID: 4, Broker: "B2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.in))
			require.NoError(t, err)

			m, ok := ev.(core.Malformed)
			require.True(t, ok, "got %T", ev)
			assert.Equal(t, tt.want, m.Header)
			assert.ErrorIs(t, m.Err, ErrMalformed)
		})
	}
}

func TestEncodeRejectsMalformed(t *testing.T) {
	_, err := Encode(core.Malformed{Header: core.Header{ID: 1, Broker: "B1"}})
	assert.ErrorIs(t, err, core.ErrUnknownEventType)
}

func TestDecodeUnknownSideKeepsSequenceSlot(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"ORDER","id":1,"broker":"B1","side":"HOLD","product":"X","client":"C","amount":1,"price":1}`))
	require.NoError(t, err)

	order, ok := ev.(core.NewOrder)
	require.True(t, ok)
	assert.False(t, order.Side.Valid())
	assert.Error(t, order.Order().Validate())
}

func TestEncodeDecode(t *testing.T) {
	events := []core.Event{
		core.NewOrder{Header: core.Header{ID: 1, Broker: "B1", Timestamp: 1}, Client: "C", Product: "X", Side: core.Sell, Amount: 2, Price: 3},
		core.Cancel{Header: core.Header{ID: 2, Broker: "B1", Timestamp: 2}, CancelledID: 1},
		core.Modify{Header: core.Header{ID: 3, Broker: "B1", Timestamp: 3}, ModifiedID: 1, Amount: 4, Price: 5},
		core.Shutdown{Header: core.Header{ID: 4, Broker: "B1", Timestamp: 4}},
	}

	for _, ev := range events {
		data, err := Encode(ev)
		require.NoError(t, err)
		back, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, ev, back)
	}
}
