// Package exchange coordinates broker feeds and product engines. It routes
// sequenced broker events to the engine of their product, keeps the shared
// order index and trade ledger, and produces the final result once every
// broker has shut down.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/engine"
	"github.com/erain9/exchango/pkg/messaging"
	"github.com/erain9/exchango/pkg/otel"
	"github.com/erain9/exchango/pkg/sequencer"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultStallWarnInterval is how often a stalled shutdown is reported
const DefaultStallWarnInterval = 5 * time.Second

// Config configures an Exchange
type Config struct {
	// Brokers lists every feed that must shut down before the result is built
	Brokers []string
	// Pool runs every broker and product chain. The exchange does not close it.
	Pool serial.Pool
	// MaxGap bounds each sequencing buffer, see sequencer.Config
	MaxGap int
	// StallWarnInterval defaults to DefaultStallWarnInterval
	StallWarnInterval time.Duration
	// Publisher receives the result once. Optional.
	Publisher messaging.ResultPublisher
	// Logger defaults to the global logger
	Logger *zerolog.Logger
}

// Exchange is the dispatcher of one run. Create it with New, call Start, feed
// events through Submit or the On* methods, and collect the result with Wait.
type Exchange struct {
	pool      serial.Pool
	publisher messaging.ResultPublisher
	stallWarn time.Duration
	logger    zerolog.Logger
	metrics   *otel.ExchangeMetrics

	buffers map[string]*sequencer.Buffer
	index   *OrderIndex
	ledger  *Ledger

	state atomic.Int32
	runID string

	mu      sync.Mutex
	engines map[string]*engine.Engine
	active  map[string]struct{}
	closed  map[string]struct{}

	done   chan struct{}
	result *core.Result
}

// New validates the configuration and builds one sequencing buffer per broker
func New(cfg Config) (*Exchange, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Pool == nil {
		return nil, ErrNilPool
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	stallWarn := cfg.StallWarnInterval
	if stallWarn <= 0 {
		stallWarn = DefaultStallWarnInterval
	}

	e := &Exchange{
		pool:      cfg.Pool,
		publisher: cfg.Publisher,
		stallWarn: stallWarn,
		logger:    logger.With().Str("component", "exchange").Logger(),
		metrics:   otel.GetExchangeMetrics(),
		buffers:   make(map[string]*sequencer.Buffer, len(cfg.Brokers)),
		index:     NewOrderIndex(),
		ledger:    NewLedger(),
		engines:   make(map[string]*engine.Engine),
		active:    make(map[string]struct{}, len(cfg.Brokers)),
		closed:    make(map[string]struct{}, len(cfg.Brokers)),
		done:      make(chan struct{}),
		runID:     uuid.NewString(),
	}

	for _, broker := range cfg.Brokers {
		if broker == "" {
			return nil, ErrEmptyBroker
		}
		if _, dup := e.buffers[broker]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBroker, broker)
		}

		e.buffers[broker] = sequencer.New(sequencer.Config{
			Broker:   broker,
			Executor: serial.NewExecutor(cfg.Pool, "broker:"+broker),
			Next:     e.dispatch,
			MaxGap:   cfg.MaxGap,
			Logger:   &logger,
		})
		e.active[broker] = struct{}{}
	}

	return e, nil
}

// Start moves the exchange into the Active state
func (e *Exchange) Start() error {
	if !e.state.CompareAndSwap(int32(StateNew), int32(StateActive)) {
		if e.State() == StateDone {
			return ErrExchangeDone
		}
		return ErrAlreadyStarted
	}

	e.logger.Info().
		Str("run_id", e.runID).
		Int("brokers", len(e.buffers)).
		Msg("Exchange started")
	return nil
}

// State returns the lifecycle state
func (e *Exchange) State() State {
	return State(e.state.Load())
}

// RunID identifies the run in logs and published results
func (e *Exchange) RunID() string {
	return e.runID
}

// Submit hands a broker event to the sequencing buffer of its feed. Events
// of unknown brokers and events with an invalid id are rejected with an
// error; every other data problem is dropped after sequencing.
func (e *Exchange) Submit(ev core.Event) error {
	switch e.State() {
	case StateNew:
		return ErrNotStarted
	case StateDone:
		return ErrExchangeDone
	case StateDraining:
		h := ev.EventHeader()
		e.metrics.RecordDropped(context.Background(), h.Broker, otel.DropAfterShutdown)
		e.logger.Warn().Str("broker", h.Broker).Int("id", h.ID).Msg("Dropping event received while draining")
		return nil
	}

	h := ev.EventHeader()
	buf, ok := e.buffers[h.Broker]
	if !ok {
		e.metrics.RecordDropped(context.Background(), h.Broker, otel.DropUnknownBroker)
		return fmt.Errorf("%w: %q", ErrUnknownBroker, h.Broker)
	}

	e.metrics.RecordReceived(context.Background(), h.Broker, core.Kind(ev))
	return buf.Accept(ev)
}

// OnNewOrder submits a new order event
func (e *Exchange) OnNewOrder(m core.NewOrder) error {
	return e.Submit(m)
}

// OnCancel submits a cancel event
func (e *Exchange) OnCancel(m core.Cancel) error {
	return e.Submit(m)
}

// OnModify submits a modification event
func (e *Exchange) OnModify(m core.Modify) error {
	return e.Submit(m)
}

// OnBrokerShutdown submits the last event of a broker feed
func (e *Exchange) OnBrokerShutdown(m core.Shutdown) error {
	return e.Submit(m)
}

// Wait blocks until the result is available or ctx is done
func (e *Exchange) Wait(ctx context.Context) (*core.Result, error) {
	if e.State() == StateNew {
		return nil, ErrNotStarted
	}

	select {
	case <-e.done:
		return e.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the result without blocking
func (e *Exchange) Result() (*core.Result, error) {
	select {
	case <-e.done:
		return e.result, nil
	default:
		return nil, ErrResultNotReady
	}
}

// dispatch runs on the serial chain of the event's broker, in id order
func (e *Exchange) dispatch(ev core.Event) {
	h := ev.EventHeader()
	logger := e.logger.With().Str("broker", h.Broker).Int("id", h.ID).Str("type", core.Kind(ev)).Logger()

	if e.brokerClosed(h.Broker) {
		e.drop(logger, h.Broker, otel.DropAfterShutdown, nil)
		return
	}

	switch m := ev.(type) {
	case core.NewOrder:
		e.dispatchNewOrder(logger, m)
	case core.Cancel:
		e.dispatchCancel(logger, m)
	case core.Modify:
		e.dispatchModify(logger, m)
	case core.Shutdown:
		e.brokerShutdown(h.Broker)
	case core.Malformed:
		e.drop(logger, h.Broker, otel.DropMalformed, m.Err)
	default:
		e.drop(logger, h.Broker, otel.DropMalformed, core.ErrUnknownEventType)
	}
}

func (e *Exchange) dispatchNewOrder(logger zerolog.Logger, m core.NewOrder) {
	order := m.Order()
	if err := order.Validate(); err != nil {
		e.drop(logger, m.Broker, otel.DropMalformed, err)
		return
	}

	eng, err := e.engineFor(order.Product)
	if err != nil {
		logger.Error().Err(err).Msg("No engine for product")
		return
	}

	e.index.Put(order)
	if err := eng.OnNewOrder(order); err != nil {
		e.index.Remove(order.Key())
		logger.Error().Err(err).Str("product", order.Product).Msg("Failed to route order")
	}
}

func (e *Exchange) dispatchCancel(logger zerolog.Logger, m core.Cancel) {
	eng, ok := e.resolve(m.Target())
	if !ok {
		logger.Debug().Stringer("target", m.Target()).Msg("Cancel of order not resting")
		return
	}
	if err := eng.OnCancel(m.Target()); err != nil {
		logger.Error().Err(err).Str("product", eng.Product()).Msg("Failed to route cancel")
	}
}

func (e *Exchange) dispatchModify(logger zerolog.Logger, m core.Modify) {
	if err := m.Validate(); err != nil {
		e.drop(logger, m.Broker, otel.DropMalformed, err)
		return
	}

	eng, ok := e.resolve(m.Target())
	if !ok {
		logger.Debug().Stringer("target", m.Target()).Msg("Modification of order not resting")
		return
	}
	if err := eng.OnModify(m); err != nil {
		logger.Error().Err(err).Str("product", eng.Product()).Msg("Failed to route modification")
	}
}

func (e *Exchange) drop(logger zerolog.Logger, broker, reason string, err error) {
	e.metrics.RecordDropped(context.Background(), broker, reason)
	logger.Warn().Err(err).Str("reason", reason).Msg("Dropping event")
}

// resolve finds the engine of a resting order through the index
func (e *Exchange) resolve(key core.OrderID) (*engine.Engine, bool) {
	order, ok := e.index.Lookup(key)
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	eng, ok := e.engines[order.Product]
	return eng, ok
}

// engineFor returns the engine of a product, creating it on first use
func (e *Exchange) engineFor(product string) (*engine.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if eng, ok := e.engines[product]; ok {
		return eng, nil
	}
	if e.State() != StateActive {
		return nil, fmt.Errorf("%w: cannot open product %s", ErrExchangeDone, product)
	}

	eng := engine.New(engine.Config{
		Product:  product,
		Executor: serial.NewExecutor(e.pool, "product:"+product),
		Ledger:   e.ledger,
		Index:    e.index,
		Logger:   &e.logger,
	})
	e.engines[product] = eng
	e.logger.Debug().Str("product", product).Msg("Product engine created")
	return eng, nil
}

func (e *Exchange) brokerClosed(broker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, closed := e.closed[broker]
	return closed
}

// brokerShutdown removes a feed from the active set. The last one starts
// finalization on a dedicated goroutine so no pool worker waits on the
// barrier.
func (e *Exchange) brokerShutdown(broker string) {
	e.mu.Lock()
	delete(e.active, broker)
	e.closed[broker] = struct{}{}
	remaining := len(e.active)

	var engines []*engine.Engine
	last := remaining == 0 && e.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
	if last {
		engines = make([]*engine.Engine, 0, len(e.engines))
		for _, eng := range e.engines {
			engines = append(engines, eng)
		}
	}
	e.mu.Unlock()

	e.logger.Info().Str("broker", broker).Int("remaining", remaining).Msg("Broker shut down")
	if last {
		go e.finalize(engines)
	}
}

type ack struct {
	product string
	book    *core.OrderBook
}

// finalize stops every engine, waits for all of them and publishes the result
func (e *Exchange) finalize(engines []*engine.Engine) {
	ctx, span := otel.StartSpan(context.Background(), otel.SpanFinalizeExchange,
		attribute.Int(otel.AttributeEngineCount, len(engines)),
	)
	defer span.End()

	start := time.Now()
	acks := make(chan ack, len(engines))
	waiting := make(map[string]struct{}, len(engines))

	for _, eng := range engines {
		snapshot, err := eng.Shutdown()
		if err != nil {
			// the engine cannot be reached; its book is lost
			e.logger.Error().Err(err).Str("product", eng.Product()).Msg("Failed to stop product engine")
			continue
		}
		waiting[eng.Product()] = struct{}{}
		go func(product string) {
			acks <- ack{product: product, book: <-snapshot}
		}(eng.Product())
	}

	books := make([]core.OrderBook, 0, len(waiting))
	ticker := time.NewTicker(e.stallWarn)
	defer ticker.Stop()

	for len(waiting) > 0 {
		select {
		case a := <-acks:
			delete(waiting, a.product)
			if !a.book.IsEmpty() {
				books = append(books, *a.book)
			}
		case <-ticker.C:
			stalled := make([]string, 0, len(waiting))
			for product := range waiting {
				stalled = append(stalled, product)
			}
			sort.Strings(stalled)
			e.logger.Warn().
				Strs("products", stalled).
				Dur("elapsed", time.Since(start)).
				Msg("Waiting for product engines to finalize")
		}
	}

	sort.Slice(books, func(i, j int) bool { return books[i].Product < books[j].Product })
	result := &core.Result{
		OrderBooks:   books,
		Transactions: e.ledger.Transactions(),
	}

	e.metrics.RecordShutdownWait(ctx, time.Since(start), len(engines))
	otel.AddAttributes(span,
		attribute.Int(otel.AttributeBookCount, len(result.OrderBooks)),
		attribute.Int(otel.AttributeTradeCount, len(result.Transactions)),
	)

	e.mu.Lock()
	e.engines = make(map[string]*engine.Engine)
	e.mu.Unlock()
	e.index.Clear()

	e.result = result
	e.state.Store(int32(StateDone))
	close(e.done)

	e.logger.Info().
		Str("run_id", e.runID).
		Int("transactions", len(result.Transactions)).
		Int("order_books", len(result.OrderBooks)).
		Dur("shutdown_wait", time.Since(start)).
		Msg("Exchange finished")

	e.publish(ctx, result)
}

func (e *Exchange) publish(ctx context.Context, result *core.Result) {
	if e.publisher == nil {
		return
	}

	ctx, span := otel.StartSpan(ctx, otel.SpanPublishResult)
	defer span.End()

	if err := e.publisher.PublishResult(ctx, e.runID, result); err != nil {
		e.logger.Error().Err(err).Str("run_id", e.runID).Msg("Failed to publish result")
	}
}
