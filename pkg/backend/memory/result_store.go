// Package memory keeps published exchange results in process memory.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/erain9/exchango/pkg/core"
)

// ErrNotFound is returned for unknown run ids
var ErrNotFound = errors.New("result not found")

// ResultStore implements messaging.ResultPublisher in memory
type ResultStore struct {
	sync.RWMutex
	results map[string]*core.Result
	runs    []string
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]*core.Result),
	}
}

// PublishResult stores a copy of the result under runID
func (s *ResultStore) PublishResult(_ context.Context, runID string, result *core.Result) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.results[runID]; !ok {
		s.runs = append(s.runs, runID)
	}
	s.results[runID] = clone(result)
	return nil
}

// LoadResult returns a copy of the result of a run
func (s *ResultStore) LoadResult(_ context.Context, runID string) (*core.Result, error) {
	s.RLock()
	defer s.RUnlock()

	result, ok := s.results[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(result), nil
}

// Runs lists stored run ids in publication order
func (s *ResultStore) Runs() []string {
	s.RLock()
	defer s.RUnlock()
	return append([]string(nil), s.runs...)
}

func clone(r *core.Result) *core.Result {
	out := &core.Result{
		OrderBooks:   make([]core.OrderBook, len(r.OrderBooks)),
		Transactions: append([]core.Transaction{}, r.Transactions...),
	}
	for i, b := range r.OrderBooks {
		out.OrderBooks[i] = core.OrderBook{
			Product: b.Product,
			Buy:     append([]core.OrderEntry{}, b.Buy...),
			Sell:    append([]core.OrderEntry{}, b.Sell...),
		}
	}
	return out
}
