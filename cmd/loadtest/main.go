package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/erain9/exchango/pkg/logging"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

func main() {
	mode := flag.String("mode", "inproc", "Load target: inproc (local exchange) or kafka (broker feed topic)")
	kafkaAddr := flag.String("kafka_addr", "localhost:9092", "Kafka address for -mode=kafka")
	topic := flag.String("topic", "exchango-events", "Feed topic for -mode=kafka")
	partition := flag.Int("partition", 0, "Feed partition for -mode=kafka")
	brokers := flag.Int("brokers", 4, "Number of simulated brokers")
	products := flag.Int("products", 8, "Number of products")
	orders := flag.Int("orders", 10000, "Events per broker, excluding the shutdown notification")
	workers := flag.Int("workers", 8, "Worker pool size for -mode=inproc")
	ratePerSec := flag.Float64("rate", 0, "Maximum events per second, 0 for unlimited")
	cancelRatio := flag.Float64("cancel_ratio", 0.1, "Share of events that cancel an earlier order")
	modifyRatio := flag.Float64("modify_ratio", 0.1, "Share of events that modify an earlier order")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	logLevel := flag.String("log_level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	logging.Setup(logging.Config{Level: *logLevel, Format: logging.FormatConsole, Output: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	p := params{
		brokers:         *brokers,
		products:        *products,
		ordersPerBroker: *orders,
		workers:         *workers,
		rate:            *ratePerSec,
		cancelRatio:     *cancelRatio,
		modifyRatio:     *modifyRatio,
		seed:            *seed,
	}
	if p.brokers < 1 || p.products < 1 || p.ordersPerBroker < 0 {
		log.Fatal().Msg("-brokers and -products must be positive")
	}

	log.Info().
		Str("mode", *mode).
		Int("brokers", p.brokers).
		Int("products", p.products).
		Int("orders", p.ordersPerBroker).
		Int64("seed", p.seed).
		Msg("Starting load test")

	var (
		rep *report
		err error
	)
	switch *mode {
	case "inproc":
		rep, err = runInProcess(ctx, p)
	case "kafka":
		w := newKafkaWriter(*kafkaAddr, *topic, *partition)
		defer w.Close()
		rep, err = produce(ctx, w, p)
	default:
		log.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Load test failed")
	}

	printReport(color.Output, rep)
}
