package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/erain9/exchango/pkg/otel"

	// Span names
	SpanMatchOrders      = "match_orders"
	SpanFinalizeExchange = "finalize_exchange"
	SpanPublishResult    = "publish_result"

	// Attribute keys
	AttributeProduct     = "exchange.product"
	AttributeBroker      = "exchange.broker"
	AttributeEventType   = "exchange.event_type"
	AttributeTradeCount  = "trade.count"
	AttributeEngineCount = "engine.count"
	AttributeBookCount   = "book.count"
	AttributeDropReason  = "drop.reason"
	AttributePublisher   = "publisher"
)

// StartSpan starts a span on the global tracer provider. Until Init installs
// an exporter the global provider is a noop, so the span is always non-nil.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
