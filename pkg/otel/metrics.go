package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Drop reasons
const (
	DropMalformed     = "malformed"
	DropDuplicate     = "duplicate"
	DropGapExceeded   = "gap_exceeded"
	DropUnknownBroker = "unknown_broker"
	DropAfterShutdown = "after_shutdown"
)

var (
	exchangeMetrics     *ExchangeMetrics
	exchangeMetricsOnce sync.Once
)

// ExchangeMetrics holds the instruments of the matching core
type ExchangeMetrics struct {
	eventsReceived  metric.Int64Counter
	eventsDropped   metric.Int64Counter
	tradesTotal     metric.Int64Counter
	tradeVolume     metric.Int64Counter
	pendingBuffered metric.Int64UpDownCounter
	shutdownWait    metric.Float64Histogram
}

// NewExchangeMetrics creates the instruments on the given meter
func NewExchangeMetrics(meter metric.Meter) (*ExchangeMetrics, error) {
	eventsReceived, err := meter.Int64Counter(
		"exchange.events.received",
		metric.WithDescription("Broker events accepted for sequencing"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter(
		"exchange.events.dropped",
		metric.WithDescription("Broker events discarded as protocol violations"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	tradesTotal, err := meter.Int64Counter(
		"exchange.trades.total",
		metric.WithDescription("Executed transactions"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, err
	}

	tradeVolume, err := meter.Int64Counter(
		"exchange.trades.volume",
		metric.WithDescription("Executed amount"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	pendingBuffered, err := meter.Int64UpDownCounter(
		"exchange.sequencer.pending",
		metric.WithDescription("Events held back by sequencing buffers waiting for a missing id"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	shutdownWait, err := meter.Float64Histogram(
		"exchange.shutdown.wait",
		metric.WithDescription("Time spent waiting for product engines to finalize"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ExchangeMetrics{
		eventsReceived:  eventsReceived,
		eventsDropped:   eventsDropped,
		tradesTotal:     tradesTotal,
		tradeVolume:     tradeVolume,
		pendingBuffered: pendingBuffered,
		shutdownWait:    shutdownWait,
	}, nil
}

// GetExchangeMetrics returns the process-wide instruments created on the
// global meter provider. On failure it returns instruments that record nothing.
func GetExchangeMetrics() *ExchangeMetrics {
	exchangeMetricsOnce.Do(func() {
		m, err := NewExchangeMetrics(otel.GetMeterProvider().Meter(instrumentationName))
		if err != nil {
			m = &ExchangeMetrics{}
		}
		exchangeMetrics = m
	})
	return exchangeMetrics
}

// RecordReceived counts an accepted broker event
func (m *ExchangeMetrics) RecordReceived(ctx context.Context, broker, eventType string) {
	if m.eventsReceived == nil {
		return
	}
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeBroker, broker),
		attribute.String(AttributeEventType, eventType),
	))
}

// RecordDropped counts a discarded broker event
func (m *ExchangeMetrics) RecordDropped(ctx context.Context, broker, reason string) {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeBroker, broker),
		attribute.String(AttributeDropReason, reason),
	))
}

// RecordTrade counts one executed transaction
func (m *ExchangeMetrics) RecordTrade(ctx context.Context, product string, amount int) {
	if m.tradesTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttributeProduct, product))
	m.tradesTotal.Add(ctx, 1, attrs)
	m.tradeVolume.Add(ctx, int64(amount), attrs)
}

// AddPending tracks the depth of a sequencing buffer
func (m *ExchangeMetrics) AddPending(ctx context.Context, broker string, delta int64) {
	if m.pendingBuffered == nil {
		return
	}
	m.pendingBuffered.Add(ctx, delta, metric.WithAttributes(attribute.String(AttributeBroker, broker)))
}

// RecordShutdownWait records how long the shutdown barrier took
func (m *ExchangeMetrics) RecordShutdownWait(ctx context.Context, d time.Duration, engines int) {
	if m.shutdownWait == nil {
		return
	}
	m.shutdownWait.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Int(AttributeEngineCount, engines)))
}
