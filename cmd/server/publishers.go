package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/erain9/exchango/config"
	redisstore "github.com/erain9/exchango/pkg/backend/redis"
	"github.com/erain9/exchango/pkg/logging"
	"github.com/erain9/exchango/pkg/messaging"
	"github.com/erain9/exchango/pkg/messaging/kafka"
	"github.com/erain9/exchango/pkg/messaging/queue"
	"github.com/rs/zerolog"
)

// publishers is the result fan-out together with what must be closed on exit
type publishers struct {
	messaging.Fanout
	closers []io.Closer
}

// Close closes every publisher connection
func (p *publishers) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func setupPublishers(cfg *config.Config, logger zerolog.Logger) (*publishers, error) {
	p := &publishers{
		Fanout: messaging.Fanout{messaging.LogPublisher{Logger: logger.With().Str("component", "result").Logger()}},
	}

	if cfg.Kafka.Enabled {
		switch cfg.Kafka.Publisher {
		case config.PublisherSarama:
			pub, err := queue.NewQueueResultPublisher([]string{cfg.Kafka.BrokerAddr}, cfg.Kafka.ResultTopic)
			if err != nil {
				return nil, err
			}
			p.Fanout = append(p.Fanout, pub)
			p.closers = append(p.closers, pub)
		default:
			pub := kafka.NewKafkaResultPublisher(cfg.Kafka.BrokerAddr, cfg.Kafka.ResultTopic)
			p.Fanout = append(p.Fanout, pub)
			p.closers = append(p.closers, pub)
		}
		logger.Info().Str("publisher", cfg.Kafka.Publisher).Str("topic", cfg.Kafka.ResultTopic).Msg("Kafka result publisher enabled")
	}

	if cfg.Redis.Enabled {
		zlog, err := logging.NewZapLogger(logging.Config{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis logger: %w", err)
		}
		client := redisstore.NewClient(redisstore.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		p.Fanout = append(p.Fanout, redisstore.NewResultStore(client, cfg.Redis.Prefix, zlog))
		p.closers = append(p.closers, client)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Redis result store enabled")
	}

	return p, nil
}
