package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/erain9/exchango/pkg/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// newConsumer is replaced in tests
var newConsumer = sarama.NewConsumer

// Sink accepts decoded events, usually an *exchange.Exchange
type Sink interface {
	Submit(ev core.Event) error
}

// FeedConfig configures a Feed
type FeedConfig struct {
	Brokers   []string
	Topic     string
	Partition int32
	// Offset defaults to sarama.OffsetOldest
	Offset int64
	// StopOn lists sink errors that end Run, such as exchange.ErrExchangeDone
	StopOn []error
	// Logger defaults to the global logger
	Logger *zerolog.Logger
}

// Feed consumes one partition of broker messages and submits them to a Sink
type Feed struct {
	consumer  sarama.Consumer
	topic     string
	partition int32
	offset    int64
	stopOn    []error
	logger    zerolog.Logger
}

// NewFeed connects a consumer to the Kafka brokers
func NewFeed(cfg FeedConfig) (*Feed, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := newConsumer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	offset := cfg.Offset
	if offset == 0 {
		offset = sarama.OffsetOldest
	}

	return &Feed{
		consumer:  consumer,
		topic:     cfg.Topic,
		partition: cfg.Partition,
		offset:    offset,
		stopOn:    cfg.StopOn,
		logger:    logger.With().Str("topic", cfg.Topic).Int32("partition", cfg.Partition).Logger(),
	}, nil
}

// Run submits messages until ctx is done or the partition is closed.
// Undecodable messages are logged and skipped. Sink errors listed in StopOn
// end the run.
func (f *Feed) Run(ctx context.Context, sink Sink) error {
	pc, err := f.consumer.ConsumePartition(f.topic, f.partition, f.offset)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer pc.Close()

	f.logger.Info().Msg("Consuming broker feed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			f.logger.Error().Err(cerr).Msg("Kafka consumer error")
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			if err := f.handle(msg, sink); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) handle(msg *sarama.ConsumerMessage, sink Sink) error {
	ev, err := Decode(msg.Value)
	if err != nil {
		f.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable message")
		return nil
	}

	if err := sink.Submit(ev); err != nil {
		if f.stops(err) {
			return err
		}
		f.logger.Warn().
			Err(err).
			Int64("offset", msg.Offset).
			Str("broker", ev.EventHeader().Broker).
			Int("id", ev.EventHeader().ID).
			Msg("Event rejected")
	}
	return nil
}

// Close closes the consumer
func (f *Feed) Close() error {
	return f.consumer.Close()
}

func (f *Feed) stops(err error) bool {
	for _, target := range f.stopOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
