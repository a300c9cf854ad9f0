package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/erain9/exchango/pkg/backend/memory"
	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/exchange"
	"github.com/erain9/exchango/pkg/messaging"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/erain9/exchango/pkg/transport"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Scenario is a replayable set of broker feeds
type Scenario struct {
	Brokers []string            `yaml:"brokers"`
	Workers int                 `yaml:"workers"`
	MaxGap  int                 `yaml:"max_gap"`
	Events  []transport.Message `yaml:"events"`
}

type options struct {
	shuffle bool
	seed    int64
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	sc := &Scenario{Workers: 4}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(sc.Brokers) == 0 {
		return nil, fmt.Errorf("scenario lists no brokers")
	}
	return sc, nil
}

// replay runs the scenario on a fresh exchange. Each broker's events are
// submitted from their own goroutine, shuffled when requested.
func replay(ctx context.Context, sc *Scenario, opts options) (string, *core.Result, error) {
	feeds := make(map[string][]core.Event, len(sc.Brokers))
	for i, m := range sc.Events {
		ev, err := m.Event()
		if err != nil {
			return "", nil, fmt.Errorf("event %d: %w", i, err)
		}
		feeds[m.Broker] = append(feeds[m.Broker], ev)
	}

	pool, err := serial.NewWorkerPool(sc.Workers)
	if err != nil {
		return "", nil, err
	}
	defer pool.Close()

	store := memory.NewResultStore()
	published := make(chan struct{})
	ex, err := exchange.New(exchange.Config{
		Brokers: sc.Brokers,
		Pool:    pool,
		MaxGap:  sc.MaxGap,
		Publisher: messaging.Fanout{
			store,
			messaging.PublisherFunc(func(context.Context, string, *core.Result) error {
				close(published)
				return nil
			}),
		},
	})
	if err != nil {
		return "", nil, err
	}
	if err := ex.Start(); err != nil {
		return "", nil, err
	}

	rng := rand.New(rand.NewSource(opts.seed))
	var wg sync.WaitGroup
	errs := make(chan error, len(sc.Events))
	for _, events := range feeds {
		if opts.shuffle {
			rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
		}
		wg.Add(1)
		go func(events []core.Event) {
			defer wg.Done()
			for _, ev := range events {
				if err := ex.Submit(ev); err != nil {
					errs <- fmt.Errorf("%s #%d: %w", ev.EventHeader().Broker, ev.EventHeader().ID, err)
				}
			}
		}(events)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		color.New(color.FgYellow).Fprintf(os.Stderr, "rejected: %v\n", err)
	}

	if _, err := ex.Wait(ctx); err != nil {
		return "", nil, fmt.Errorf("waiting for broker shutdowns: %w", err)
	}

	select {
	case <-published:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	// the store copy is what downstream consumers observed
	result, err := store.LoadResult(ctx, ex.RunID())
	if err != nil {
		return "", nil, err
	}
	return ex.RunID(), result, nil
}

func printResult(out io.Writer, runID string, result *core.Result) {
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(out, "%s %s\n\n", bold("Run"), runID)

	fmt.Fprintf(out, "%s (%d)\n", bold("Transactions"), len(result.Transactions))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", cyan("ID"), cyan("Product"), cyan("Amount"), cyan("Price"), cyan("Buyer"), cyan("Seller"))
	for _, tx := range result.Transactions {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
			tx.ID, tx.Product, tx.Amount, tx.Price,
			green("%s/%s", tx.BrokerBuy, tx.ClientBuy),
			red("%s/%s", tx.BrokerSell, tx.ClientSell))
	}
	_ = w.Flush()

	for _, book := range result.OrderBooks {
		fmt.Fprintf(out, "\n%s %s\n", bold("Order book"), book.Product)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cyan("Side"), cyan("Price"), cyan("Amount"), cyan("Order"), cyan("Client"))
		for i := len(book.Sell) - 1; i >= 0; i-- {
			e := book.Sell[i]
			fmt.Fprintf(w, "%s\t%d\t%d\t%s/%d\t%s\n", red("ASK"), e.Price, e.Amount, e.Broker, e.ID, e.Client)
		}
		for _, e := range book.Buy {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s/%d\t%s\n", green("BID"), e.Price, e.Amount, e.Broker, e.ID, e.Client)
		}
		_ = w.Flush()
	}
}
