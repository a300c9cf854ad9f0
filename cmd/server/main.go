package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/exchango/config"
	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/exchange"
	"github.com/erain9/exchango/pkg/logging"
	"github.com/erain9/exchango/pkg/messaging"
	"github.com/erain9/exchango/pkg/otel"
	"github.com/erain9/exchango/pkg/serial"
	"github.com/erain9/exchango/pkg/transport"
	"github.com/rs/zerolog/log"
)

// publishTimeout bounds how long the process waits for the result sinks
const publishTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	cleanup, err := otel.Init(otel.Config{
		ServiceName:      otel.ServiceMatchingEngine,
		Endpoint:         cfg.OTel.Endpoint,
		CollectorEnabled: cfg.OTel.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()

	if cfg.OTel.Enabled {
		if err := otel.StartRuntimeMetrics(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	pool, err := serial.NewWorkerPool(cfg.Exchange.Workers)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create worker pool")
	}
	defer pool.Close()

	sinks, err := setupPublishers(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up result publishers")
	}
	defer sinks.Close()

	// the exchange publishes after Wait returns; main must not close the sinks before that
	published := make(chan struct{})
	publisher := messaging.PublisherFunc(func(ctx context.Context, runID string, result *core.Result) error {
		defer close(published)
		return sinks.PublishResult(ctx, runID, result)
	})

	ex, err := exchange.New(exchange.Config{
		Brokers:           cfg.Exchange.Brokers,
		Pool:              pool,
		MaxGap:            cfg.Exchange.MaxGap,
		StallWarnInterval: cfg.Exchange.StallWarnInterval,
		Publisher:         publisher,
		Logger:            &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create exchange")
	}
	if err := ex.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start exchange")
	}

	grpcServer, health, err := setupGRPCServer(ctx, cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to setup gRPC server")
	}
	httpServer := setupHTTPServer(ctx, cfg.Server.HTTPAddr, ex)

	if cfg.Kafka.Enabled {
		feed, err := transport.NewFeed(transport.FeedConfig{
			Brokers: []string{cfg.Kafka.BrokerAddr},
			Topic:   cfg.Kafka.InputTopic,
			StopOn:  []error{exchange.ErrExchangeDone, exchange.ErrNotStarted},
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create broker feed")
		}
		defer feed.Close()

		go func() {
			if err := feed.Run(ctx, ex); err != nil && !errors.Is(err, exchange.ErrExchangeDone) {
				logger.Error().Err(err).Msg("Broker feed stopped")
			}
		}()
	} else {
		logger.Warn().Msg("Kafka disabled: no broker feed is consumed")
	}

	result, err := ex.Wait(ctx)
	if err != nil {
		logger.Info().Err(err).Str("state", ex.State().String()).Msg("Shutting down before all brokers finished")
	} else {
		logger.Info().
			Str("run_id", ex.RunID()).
			Int("transactions", len(result.Transactions)).
			Int("order_books", len(result.OrderBooks)).
			Msg("Exchange run complete")

		select {
		case <-published:
		case <-time.After(publishTimeout):
			logger.Error().Dur("timeout", publishTimeout).Msg("Result publishing did not finish")
		}
	}
	markFinished(health)

	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Servers shutdown complete")
}
