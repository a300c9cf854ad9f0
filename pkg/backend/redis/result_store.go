// Package redis stores published exchange results in Redis.
//
// A run is kept under three keys:
//
//	<prefix>:run:<id>:transactions   list of JSON transactions, ledger order
//	<prefix>:run:<id>:books          hash product -> JSON order book
//	<prefix>:runs                    list of run ids, publication order
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/erain9/exchango/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned for runs without stored data
var ErrNotFound = errors.New("result not found")

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client from options
func NewClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// ResultStore implements messaging.ResultPublisher on Redis
type ResultStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewResultStore creates a store writing under prefix
func NewResultStore(client *redis.Client, prefix string, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *ResultStore) transactionsKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:transactions", s.prefix, runID)
}

func (s *ResultStore) booksKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:books", s.prefix, runID)
}

func (s *ResultStore) runsKey() string {
	return fmt.Sprintf("%s:runs", s.prefix)
}

// PublishResult replaces any stored data of runID in one transaction
func (s *ResultStore) PublishResult(ctx context.Context, runID string, result *core.Result) error {
	txs := make([]interface{}, 0, len(result.Transactions))
	for _, tx := range result.Transactions {
		data, err := json.Marshal(tx)
		if err != nil {
			return fmt.Errorf("failed to marshal transaction %d: %w", tx.ID, err)
		}
		txs = append(txs, data)
	}

	books := make(map[string]interface{}, len(result.OrderBooks))
	for _, book := range result.OrderBooks {
		data, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("failed to marshal order book %s: %w", book.Product, err)
		}
		books[book.Product] = data
	}

	txKey, bookKey := s.transactionsKey(runID), s.booksKey(runID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, txKey, bookKey)
		if len(txs) > 0 {
			pipe.RPush(ctx, txKey, txs...)
		}
		if len(books) > 0 {
			pipe.HSet(ctx, bookKey, books)
		}
		pipe.LRem(ctx, s.runsKey(), 0, runID)
		pipe.RPush(ctx, s.runsKey(), runID)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to store result",
			zap.String("runID", runID),
			zap.Error(err))
		return fmt.Errorf("failed to store result %s: %w", runID, err)
	}

	s.logger.Info("result stored",
		zap.String("runID", runID),
		zap.Int("transactions", len(txs)),
		zap.Int("orderBooks", len(books)))
	return nil
}

// LoadResult reads a stored run back. Books are ordered by product.
func (s *ResultStore) LoadResult(ctx context.Context, runID string) (*core.Result, error) {
	known, err := s.client.LPos(ctx, s.runsKey(), runID, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && known < 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rawTxs, err := s.client.LRange(ctx, s.transactionsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	rawBooks, err := s.client.HGetAll(ctx, s.booksKey(runID)).Result()
	if err != nil {
		return nil, err
	}

	result := &core.Result{
		OrderBooks:   make([]core.OrderBook, 0, len(rawBooks)),
		Transactions: make([]core.Transaction, 0, len(rawTxs)),
	}
	for _, raw := range rawTxs {
		var tx core.Transaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			s.logger.Error("failed to unmarshal transaction",
				zap.String("runID", runID),
				zap.Error(err))
			return nil, err
		}
		result.Transactions = append(result.Transactions, tx)
	}
	for product, raw := range rawBooks {
		var book core.OrderBook
		if err := json.Unmarshal([]byte(raw), &book); err != nil {
			s.logger.Error("failed to unmarshal order book",
				zap.String("runID", runID),
				zap.String("product", product),
				zap.Error(err))
			return nil, err
		}
		result.OrderBooks = append(result.OrderBooks, book)
	}
	sort.Slice(result.OrderBooks, func(i, j int) bool {
		return result.OrderBooks[i].Product < result.OrderBooks[j].Product
	})

	return result, nil
}

// Runs lists stored run ids in publication order
func (s *ResultStore) Runs(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, s.runsKey(), 0, -1).Result()
}
