package apiclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// ErrSuperseded is returned by Suggest when a newer query replaced the call
// before its result could be applied.
var ErrSuperseded = errors.New("suggestion superseded")

// Suggester runs typeahead product searches.  Each call cancels the one
// before it, and a result is handed to apply only while its call is still
// the latest one, so stale suggestions never reach the caller.
type Suggester struct {
	client *Client
	limit  int

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewSuggester returns a Suggester that keeps at most limit results
// (limit <= 0 keeps all).
func NewSuggester(c *Client, limit int) *Suggester {
	return &Suggester{client: c, limit: limit}
}

// Suggest searches for query and calls apply with the matches.  An empty
// query cancels any in-flight search and applies an empty list.  apply is
// called with the Suggester locked and must not call back into it.
func (s *Suggester) Suggest(ctx context.Context, query string, apply func([]model.Product)) error {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	s.seq++
	my := s.seq
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if query == "" {
		apply(nil)
		s.mu.Unlock()
		return nil
	}
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	products, err := s.client.ListProducts(cctx, ProductQuery{Search: query})

	s.mu.Lock()
	defer s.mu.Unlock()
	if my != s.seq {
		return ErrSuperseded
	}
	s.cancel = nil
	cancel()
	if err != nil {
		return err
	}
	if s.limit > 0 && len(products) > s.limit {
		products = products[:s.limit]
	}
	// apply runs under the lock so a newer Suggest cannot start in between
	apply(products)
	return nil
}

// Cancel aborts the in-flight search, if any.
func (s *Suggester) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
