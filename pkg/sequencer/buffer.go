// Package sequencer restores per-feed message order. Broker messages carry a
// sequence id starting at 1; they may arrive in any order and are forwarded
// strictly ascending, without gaps or repeats.
package sequencer

import (
	"context"
	"errors"
	"sync"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/otel"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxGap bounds how far ahead of the expected id an event may be
const DefaultMaxGap = 100000

var (
	// ErrInvalidID is returned for events whose id is below 1
	ErrInvalidID = errors.New("sequence id must be positive")
	// ErrMismatchedBroker is returned for events of another feed
	ErrMismatchedBroker = errors.New("event belongs to another broker feed")
)

// Handler receives events in sequence order
type Handler func(ev core.Event)

// Config configures a Buffer
type Config struct {
	Broker string
	// Executor serializes the buffer's work. It must be dedicated to this feed.
	Executor *serial.Executor
	Next     Handler
	// MaxGap drops events with id >= expected+MaxGap. Zero disables the bound.
	MaxGap int
	// Logger defaults to the global logger
	Logger *zerolog.Logger
}

// Buffer reorders the events of one broker feed
type Buffer struct {
	broker  string
	exec    *serial.Executor
	next    Handler
	maxGap  int
	logger  zerolog.Logger
	metrics *otel.ExchangeMetrics

	// guarded by mu; written only from the feed's serial chain
	mu       sync.Mutex
	pending  map[int]core.Event
	expected int
}

// New creates a Buffer expecting id 1 first
func New(cfg Config) *Buffer {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Buffer{
		broker:   cfg.Broker,
		exec:     cfg.Executor,
		next:     cfg.Next,
		maxGap:   cfg.MaxGap,
		logger:   logger.With().Str("broker", cfg.Broker).Logger(),
		metrics:  otel.GetExchangeMetrics(),
		pending:  make(map[int]core.Event, 1024),
		expected: 1,
	}
}

// Accept schedules an event for sequencing. Events with an invalid id or
// from another feed are rejected immediately; everything else is handled on
// the feed's serial chain. The returned error is non-nil only for rejected
// events or when the chain cannot be scheduled.
func (b *Buffer) Accept(ev core.Event) error {
	h := ev.EventHeader()
	if h.ID < 1 {
		b.metrics.RecordDropped(context.Background(), b.broker, otel.DropMalformed)
		return ErrInvalidID
	}
	if h.Broker != b.broker {
		b.metrics.RecordDropped(context.Background(), b.broker, otel.DropMalformed)
		return ErrMismatchedBroker
	}

	return b.exec.Submit(func() {
		if b.store(ev) {
			b.drain()
		}
	})
}

// Expected returns the next id the buffer will forward
func (b *Buffer) Expected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expected
}

// Pending returns the number of events waiting for a missing id
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Buffer) store(ev core.Event) bool {
	ctx := context.Background()
	id := ev.EventHeader().ID

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.pending[id]; dup || id < b.expected {
		b.logger.Warn().Int("id", id).Int("expected", b.expected).Msg("Dropping duplicate event")
		b.metrics.RecordDropped(ctx, b.broker, otel.DropDuplicate)
		return false
	}

	if b.maxGap > 0 && id >= b.expected+b.maxGap {
		b.logger.Error().
			Int("id", id).
			Int("expected", b.expected).
			Int("max_gap", b.maxGap).
			Msg("Dropping event beyond sequencing window")
		b.metrics.RecordDropped(ctx, b.broker, otel.DropGapExceeded)
		return false
	}

	b.pending[id] = ev
	b.metrics.AddPending(ctx, b.broker, 1)
	return true
}

func (b *Buffer) drain() {
	for {
		b.mu.Lock()
		ev, ok := b.pending[b.expected]
		if ok {
			delete(b.pending, b.expected)
			b.expected++
		}
		waiting := len(b.pending)
		b.mu.Unlock()

		if !ok {
			if waiting > 0 {
				b.logger.Debug().Int("expected", b.Expected()).Int("pending", waiting).Msg("Waiting for missing event")
			}
			return
		}

		b.metrics.AddPending(context.Background(), b.broker, -1)
		b.next(ev)
	}
}
