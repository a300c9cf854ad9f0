package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/exchange"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/erain9/exchango/pkg/transport"
	"github.com/fatih/color"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"
)

// latency values are recorded in microseconds
const (
	minLatency = 1
	maxLatency = int64(10 * time.Second / time.Microsecond)
	sigFigs    = 3
)

type params struct {
	brokers         int
	products        int
	ordersPerBroker int
	workers         int
	rate            float64 // events per second over all brokers, 0 disables limiting
	cancelRatio     float64
	modifyRatio     float64
	seed            int64
}

type report struct {
	runID        string
	events       int
	rejected     int
	transactions int
	books        int
	elapsed      time.Duration
	submit       *hdrhistogram.Histogram
}

func brokerName(i int) string {
	return fmt.Sprintf("B%02d", i+1)
}

func productName(i int) string {
	return fmt.Sprintf("P%03d", i+1)
}

// generate builds one feed per broker. Timestamps interleave across brokers,
// prices cluster around 100 so that most products trade. Every feed ends
// with its shutdown notification.
func generate(p params) map[string][]core.Event {
	rng := rand.New(rand.NewSource(p.seed))
	feeds := make(map[string][]core.Event, p.brokers)

	for b := 0; b < p.brokers; b++ {
		broker := brokerName(b)
		events := make([]core.Event, 0, p.ordersPerBroker+1)
		var placed []int

		for i := 0; i < p.ordersPerBroker; i++ {
			h := core.Header{
				ID:        i + 1,
				Broker:    broker,
				Timestamp: int64(i*p.brokers + b + 1),
			}

			roll := rng.Float64()
			switch {
			case len(placed) > 0 && roll < p.cancelRatio:
				target := placed[rng.Intn(len(placed))]
				events = append(events, core.Cancel{Header: h, CancelledID: target})
			case len(placed) > 0 && roll < p.cancelRatio+p.modifyRatio:
				target := placed[rng.Intn(len(placed))]
				events = append(events, core.Modify{
					Header:     h,
					ModifiedID: target,
					Amount:     1 + rng.Intn(100),
					Price:      95 + rng.Intn(11),
				})
			default:
				side := core.Buy
				if rng.Intn(2) == 0 {
					side = core.Sell
				}
				events = append(events, core.NewOrder{
					Header:  h,
					Client:  fmt.Sprintf("C%d", rng.Intn(10)),
					Product: productName(rng.Intn(p.products)),
					Side:    side,
					Amount:  1 + rng.Intn(100),
					Price:   95 + rng.Intn(11),
				})
				placed = append(placed, h.ID)
			}
		}

		events = append(events, core.Shutdown{Header: core.Header{
			ID:        p.ordersPerBroker + 1,
			Broker:    broker,
			Timestamp: int64(p.ordersPerBroker*p.brokers + b + 1),
		}})
		feeds[broker] = events
	}
	return feeds
}

// newLimiter allows bursts of a tenth of a second, never smaller than minBurst
func newLimiter(r float64, minBurst int) *rate.Limiter {
	if r <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(r / 10)
	if burst < minBurst {
		burst = minBurst
	}
	return rate.NewLimiter(rate.Limit(r), burst)
}

// runInProcess drives a local exchange from one goroutine per broker and
// records how long each Submit call takes.
func runInProcess(ctx context.Context, p params) (*report, error) {
	pool, err := serial.NewWorkerPool(p.workers)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	feeds := generate(p)
	brokers := make([]string, 0, len(feeds))
	for b := 0; b < p.brokers; b++ {
		brokers = append(brokers, brokerName(b))
	}

	ex, err := exchange.New(exchange.Config{Brokers: brokers, Pool: pool})
	if err != nil {
		return nil, err
	}
	if err := ex.Start(); err != nil {
		return nil, err
	}

	limiter := newLimiter(p.rate, 1)
	hists := make([]*hdrhistogram.Histogram, len(brokers))
	rejected := make([]int, len(brokers))

	start := time.Now()
	var wg sync.WaitGroup
	for i, broker := range brokers {
		hists[i] = hdrhistogram.New(minLatency, maxLatency, sigFigs)
		wg.Add(1)
		go func(i int, events []core.Event) {
			defer wg.Done()
			for _, ev := range events {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				t := time.Now()
				if err := ex.Submit(ev); err != nil {
					rejected[i]++
				}
				_ = hists[i].RecordValue(clampLatency(time.Since(t)))
			}
		}(i, feeds[broker])
	}
	wg.Wait()

	result, err := ex.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange did not finish: %w", err)
	}

	rep := &report{
		runID:        ex.RunID(),
		transactions: len(result.Transactions),
		books:        len(result.OrderBooks),
		elapsed:      time.Since(start),
		submit:       hdrhistogram.New(minLatency, maxLatency, sigFigs),
	}
	for i, h := range hists {
		rep.submit.Merge(h)
		rep.rejected += rejected[i]
	}
	for _, events := range feeds {
		rep.events += len(events)
	}
	return rep, nil
}

func clampLatency(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatency {
		return minLatency
	}
	if us > maxLatency {
		return maxLatency
	}
	return us
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func newKafkaWriter(addr, topic string, partition int) *kafka.Writer {
	return &kafka.Writer{
		Addr:  kafka.TCP(addr),
		Topic: topic,
		// the exchange feed consumes a single partition
		Balancer: kafka.BalancerFunc(func(kafka.Message, ...int) int {
			return partition
		}),
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
}

// produce publishes the generated feeds as JSON wire messages. Brokers are
// interleaved round robin so that the server sees them arriving together.
func produce(ctx context.Context, w messageWriter, p params) (*report, error) {
	feeds := generate(p)
	limiter := newLimiter(p.rate, p.brokers)
	rep := &report{submit: hdrhistogram.New(minLatency, maxLatency, sigFigs)}

	start := time.Now()
	for i := 0; ; i++ {
		var batch []kafka.Message
		for b := 0; b < p.brokers; b++ {
			events := feeds[brokerName(b)]
			if i >= len(events) {
				continue
			}
			value, err := transport.Encode(events[i])
			if err != nil {
				return nil, err
			}
			batch = append(batch, kafka.Message{Key: []byte(brokerName(b)), Value: value})
		}
		if len(batch) == 0 {
			break
		}

		if err := limiter.WaitN(ctx, len(batch)); err != nil {
			return nil, err
		}
		t := time.Now()
		if err := w.WriteMessages(ctx, batch...); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", i, err)
		}
		_ = rep.submit.RecordValue(clampLatency(time.Since(t)))
		rep.events += len(batch)
	}
	rep.elapsed = time.Since(start)
	return rep, nil
}

func printReport(out io.Writer, rep *report) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintfFunc()
	yellow := color.New(color.FgYellow).SprintfFunc()

	if rep.runID != "" {
		fmt.Fprintf(out, "%s %s\n", bold("Run"), rep.runID)
	}
	fmt.Fprintf(out, "%s %d in %v (%s)\n", bold("Events"), rep.events, rep.elapsed.Round(time.Millisecond),
		green("%.0f/s", float64(rep.events)/rep.elapsed.Seconds()))
	if rep.rejected > 0 {
		fmt.Fprintf(out, "%s %s\n", bold("Rejected"), yellow("%d", rep.rejected))
	}
	if rep.runID != "" {
		fmt.Fprintf(out, "%s %d, %s %d\n", bold("Transactions"), rep.transactions, bold("open books"), rep.books)
	}

	h := rep.submit
	fmt.Fprintf(out, "%s (us) count=%d mean=%.1f p50=%d p99=%d p99.9=%d max=%d\n",
		bold("Latency"), h.TotalCount(), h.Mean(),
		h.ValueAtQuantile(50), h.ValueAtQuantile(99), h.ValueAtQuantile(99.9), h.Max())
}
