// Package messaging delivers the final exchange result to downstream
// consumers. Concrete transports live in the kafka and queue subpackages and
// in the result stores under pkg/backend.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/exchango/pkg/core"
	"github.com/rs/zerolog"
)

// ResultPublisher receives the result of one exchange run. runID identifies
// the run and is used as message key or storage prefix.
type ResultPublisher interface {
	PublishResult(ctx context.Context, runID string, result *core.Result) error
}

// Fanout publishes to every publisher in order and joins their errors. One
// failing publisher does not prevent delivery to the rest.
type Fanout []ResultPublisher

// PublishResult implements ResultPublisher
func (f Fanout) PublishResult(ctx context.Context, runID string, result *core.Result) error {
	var errs []error
	for i, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishResult(ctx, runID, result); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d (%T): %w", i, p, err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes a summary of the result and every transaction to a logger
type LogPublisher struct {
	Logger zerolog.Logger
}

// PublishResult implements ResultPublisher
func (p LogPublisher) PublishResult(_ context.Context, runID string, result *core.Result) error {
	p.Logger.Info().
		Str("run_id", runID).
		Int("transactions", len(result.Transactions)).
		Int("order_books", len(result.OrderBooks)).
		Msg("Exchange result")

	for _, tx := range result.Transactions {
		p.Logger.Info().
			Str("run_id", runID).
			Int64("id", tx.ID).
			Str("product", tx.Product).
			Int("amount", tx.Amount).
			Int("price", tx.Price).
			Str("buyer", tx.BrokerBuy+"/"+tx.ClientBuy).
			Str("seller", tx.BrokerSell+"/"+tx.ClientSell).
			Msg("Transaction")
	}

	for _, book := range result.OrderBooks {
		p.Logger.Info().
			Str("run_id", runID).
			Str("product", book.Product).
			Int("bids", len(book.Buy)).
			Int("asks", len(book.Sell)).
			Msg("Order book")
	}
	return nil
}

// PublisherFunc adapts a function to ResultPublisher
type PublisherFunc func(ctx context.Context, runID string, result *core.Result) error

// PublishResult implements ResultPublisher
func (f PublisherFunc) PublishResult(ctx context.Context, runID string, result *core.Result) error {
	return f(ctx, runID, result)
}

var (
	_ ResultPublisher = Fanout(nil)
	_ ResultPublisher = LogPublisher{}
	_ ResultPublisher = PublisherFunc(nil)
)
