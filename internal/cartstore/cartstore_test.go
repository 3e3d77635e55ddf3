package cartstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// fakeRemote is an in-memory server cart.
type fakeRemote struct {
	mu sync.Mutex

	products map[uint64]model.Product
	lines    []model.CartItem
	nextID   uint64

	calls []string
	sent  []int // quantities carried by add/update calls

	failAdd    error
	failUpdate error
	failRemove error
	failClear  error
	hold       chan struct{} // when set, add/update block until closed
	orders     int
	onFetch    func()
}

func newFakeRemote(products ...model.Product) *fakeRemote {
	r := &fakeRemote{products: map[uint64]model.Product{}, nextID: 100}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeRemote) seed(pid uint64, qty int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.lines = append(r.lines, model.CartItem{ID: r.nextID, Product: r.products[pid], Quantity: qty})
	return r.nextID
}

func (r *fakeRemote) record(call string, qty int) {
	r.calls = append(r.calls, call)
	if call == "add" || call == "update" {
		r.sent = append(r.sent, qty)
	}
}

func (r *fakeRemote) wait() {
	r.mu.Lock()
	h := r.hold
	r.mu.Unlock()
	if h != nil {
		<-h
	}
}

func (r *fakeRemote) FetchCart(context.Context) (model.Cart, error) {
	if r.onFetch != nil {
		r.onFetch()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "fetch")
	return model.Cart{ID: 1, Items: append([]model.CartItem(nil), r.lines...)}, nil
}

func (r *fakeRemote) AddCartItem(_ context.Context, pid uint64, qty int) (model.CartItem, error) {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("add", qty)
	if r.failAdd != nil {
		return model.CartItem{}, r.failAdd
	}
	for i := range r.lines {
		if r.lines[i].Product.ID == pid {
			r.lines[i].Quantity += qty
			return r.lines[i], nil
		}
	}
	r.nextID++
	it := model.CartItem{ID: r.nextID, Product: r.products[pid], Quantity: qty}
	r.lines = append(r.lines, it)
	return it, nil
}

func (r *fakeRemote) UpdateCartItem(_ context.Context, id uint64, qty int) (*model.CartItem, error) {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("update", qty)
	if r.failUpdate != nil {
		return nil, r.failUpdate
	}
	for i := range r.lines {
		if r.lines[i].ID != id {
			continue
		}
		if qty <= 0 {
			r.lines = append(r.lines[:i], r.lines[i+1:]...)
			return nil, nil
		}
		r.lines[i].Quantity = qty
		it := r.lines[i]
		return &it, nil
	}
	return nil, apperror.New(apperror.ErrNotFound, "cart item not found")
}

func (r *fakeRemote) RemoveCartItem(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("remove", 0)
	if r.failRemove != nil {
		return r.failRemove
	}
	for i := range r.lines {
		if r.lines[i].ID == id {
			r.lines = append(r.lines[:i], r.lines[i+1:]...)
			return nil
		}
	}
	return apperror.New(apperror.ErrNotFound, "cart item not found")
}

func (r *fakeRemote) ClearCart(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("clear", 0)
	if r.failClear != nil {
		return r.failClear
	}
	r.lines = nil
	return nil
}

func (r *fakeRemote) CreateOrder(_ context.Context, addressID uint64) (model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("order", 0)
	r.orders++
	r.lines = nil
	return model.Order{ID: uint64(r.orders), Status: model.OrderPending}, nil
}

func (r *fakeRemote) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]int(nil), r.sent...)
}

func (r *fakeRemote) serverQty(pid uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l.Product.ID == pid {
			return l.Quantity
		}
	}
	return 0
}

type fakeIdentity struct{ user *model.User }

func (f fakeIdentity) User() *model.User { return f.user }

var (
	aspirin = model.Product{ID: 1, Name: "Aspirin", Price: decimal.NewFromInt(10), StockQuantity: 50}
	zinc    = model.Product{ID: 2, Name: "Zinc", Price: decimal.NewFromInt(5), StockQuantity: 50}
	user    = fakeIdentity{user: &model.User{ID: 7, Username: "amira"}}
)

type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errSink) add(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errSink) all() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

func newStore(t *testing.T, r *fakeRemote, opts Options) (*Store, *errSink) {
	t.Helper()
	sink := &errSink{}
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	opts.OnError = sink.add
	s := New(r, user, opts)
	t.Cleanup(s.Close)
	return s, sink
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func quantities(items []Item) map[uint64]int {
	out := map[uint64]int{}
	for _, it := range items {
		out[it.Product.ID] = it.Quantity
	}
	return out
}

func TestDebounced_RapidClicksSendOneRequestWithFinalTarget(t *testing.T) {
	r := newFakeRemote(aspirin)
	s, _ := newStore(t, r, Options{Debounce: 40 * time.Millisecond})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddToCart(aspirin, 1))
	}
	// visible at once, before any request
	assert.Equal(t, 3, s.Quantity(aspirin.ID))

	require.Eventually(t, func() bool { return r.serverQty(aspirin.ID) == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	calls, sent := r.snapshot()
	assert.Equal(t, []string{"add"}, calls)
	assert.Equal(t, []int{3}, sent)
	assert.Equal(t, 3, s.Quantity(aspirin.ID))
}

func TestDebounced_StepperReadsTargetAtFireTime(t *testing.T) {
	r := newFakeRemote(aspirin)
	id := r.seed(aspirin.ID, 1)
	s, _ := newStore(t, r, Options{Debounce: 40 * time.Millisecond})
	require.NoError(t, s.Load(context.Background()))

	item := s.Items()[0].ID
	for _, q := range []int{2, 3, 4, 3} {
		require.NoError(t, s.UpdateQuantity(item, q))
	}
	flush(t, s)

	calls, sent := r.snapshot()
	assert.Equal(t, []string{"fetch", "update"}, calls)
	assert.Equal(t, []int{3}, sent)
	assert.Equal(t, 3, r.serverQty(aspirin.ID))
	assert.Equal(t, id, s.Items()[0].ServerID)
}

func TestLastTargetWinsAcrossInFlightRequest(t *testing.T) {
	r := newFakeRemote(aspirin)
	r.seed(aspirin.ID, 1)
	s, _ := newStore(t, r, Options{Debounce: 10 * time.Millisecond})
	require.NoError(t, s.Load(context.Background()))
	item := s.Items()[0].ID

	r.mu.Lock()
	r.hold = make(chan struct{})
	hold := r.hold
	r.mu.Unlock()

	require.NoError(t, s.UpdateQuantity(item, 2))
	// let the first request go out and block
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, s.UpdateQuantity(item, 5))
	require.NoError(t, s.UpdateQuantity(item, 7))
	assert.Equal(t, 7, s.Quantity(aspirin.ID))

	close(hold)
	flush(t, s)

	_, sent := r.snapshot()
	assert.Equal(t, []int{2, 7}, sent)
	assert.Equal(t, 7, s.Quantity(aspirin.ID))
	assert.Equal(t, 7, r.serverQty(aspirin.ID))
}

func TestRollbackRestoresExactSnapshot(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(aspirin.ID, 2)
	r.seed(zinc.ID, 1)
	s, sink := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))
	before := s.Items()

	r.mu.Lock()
	r.failUpdate = apperror.New(apperror.ErrServerRejected, "Only 8 items in stock")
	r.mu.Unlock()

	require.NoError(t, s.UpdateQuantity(before[0].ID, 9))
	assert.Equal(t, 9, s.Quantity(aspirin.ID))
	flush(t, s)

	assert.Equal(t, before, s.Items())
	errs := sink.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperror.ErrServerRejected)
	assert.Equal(t, "Only 8 items in stock", apperror.Message(errs[0]))
	var me *MutationError
	require.True(t, errors.As(errs[0], &me))
	assert.Equal(t, aspirin.ID, me.ProductID)
}

func TestRollbackOfNewLineRemovesIt(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(zinc.ID, 1)
	s, sink := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))
	before := s.Items()

	r.mu.Lock()
	r.failAdd = apperror.New(apperror.ErrNetworkFailure, "request timed out")
	r.mu.Unlock()

	require.NoError(t, s.AddToCart(aspirin, 2))
	assert.Len(t, s.Items(), 2)
	flush(t, s)

	assert.Equal(t, before, s.Items())
	assert.Len(t, sink.all(), 1)
}

func TestRemoveRollbackKeepsPosition(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(aspirin.ID, 2)
	r.seed(zinc.ID, 1)
	s, _ := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))
	before := s.Items()

	r.mu.Lock()
	r.failRemove = apperror.New(apperror.ErrServerRejected, "nope")
	r.mu.Unlock()

	require.NoError(t, s.RemoveItem(before[0].ID))
	assert.Len(t, s.Items(), 1)
	flush(t, s)
	assert.Equal(t, before, s.Items())
}

func TestUpdateQuantityZeroEqualsRemove(t *testing.T) {
	run := func(mutate func(s *Store, id string) error) ([]Item, []string) {
		r := newFakeRemote(aspirin, zinc)
		r.seed(aspirin.ID, 2)
		r.seed(zinc.ID, 3)
		s, _ := newStore(t, r, Options{})
		require.NoError(t, s.Load(context.Background()))
		require.NoError(t, mutate(s, s.Items()[0].ID))
		flush(t, s)
		calls, _ := r.snapshot()
		return s.Items(), calls
	}

	viaUpdate, updateCalls := run(func(s *Store, id string) error { return s.UpdateQuantity(id, 0) })
	viaRemove, removeCalls := run(func(s *Store, id string) error { return s.RemoveItem(id) })

	assert.Equal(t, viaRemove, viaUpdate)
	assert.Equal(t, removeCalls, updateCalls)
	assert.Equal(t, map[uint64]int{zinc.ID: 3}, quantities(viaUpdate))
}

func TestTotals(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(aspirin.ID, 2)
	r.seed(zinc.ID, 3)
	s, _ := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 5, s.TotalItems())
	assert.True(t, decimal.NewFromInt(35).Equal(s.TotalPrice()), s.TotalPrice().String())

	// derived from visible state, optimistic changes included
	require.NoError(t, s.AddToCart(zinc, 1))
	assert.Equal(t, 6, s.Totals().Items)
	assert.True(t, decimal.NewFromInt(40).Equal(s.Totals().Price))
}

func TestUnauthenticatedMutationsChangeNothing(t *testing.T) {
	r := newFakeRemote(aspirin)
	r.seed(aspirin.ID, 1)
	s := New(r, fakeIdentity{}, Options{Debounce: 10 * time.Millisecond})
	t.Cleanup(s.Close)

	assert.ErrorIs(t, s.AddToCart(aspirin, 1), apperror.ErrUnauthenticated)
	assert.ErrorIs(t, s.UpdateQuantity("101", 3), apperror.ErrUnauthenticated)
	assert.ErrorIs(t, s.RemoveItem("101"), apperror.ErrUnauthenticated)
	assert.ErrorIs(t, s.ClearCart(), apperror.ErrUnauthenticated)
	assert.ErrorIs(t, s.Load(context.Background()), apperror.ErrUnauthenticated)
	_, err := s.Checkout(context.Background(), 1)
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)

	assert.Empty(t, s.Items())
	calls, _ := r.snapshot()
	assert.Empty(t, calls)
}

func TestTempIDReplacedByServerID(t *testing.T) {
	r := newFakeRemote(aspirin)
	s, _ := newStore(t, r, Options{})

	require.NoError(t, s.AddToCart(aspirin, 1))
	tmp := s.Items()[0].ID
	assert.Contains(t, tmp, "tmp-")
	assert.Zero(t, s.Items()[0].ServerID)
	flush(t, s)

	it := s.Items()[0]
	assert.Equal(t, "101", it.ID)
	assert.Equal(t, uint64(101), it.ServerID)

	// the temporary id still resolves for callers that captured it
	require.NoError(t, s.UpdateQuantity(tmp, 4))
	flush(t, s)
	assert.Equal(t, 4, r.serverQty(aspirin.ID))
}

func TestUnknownItem(t *testing.T) {
	s, _ := newStore(t, newFakeRemote(), Options{})
	assert.ErrorIs(t, s.UpdateQuantity("999", 2), apperror.ErrNotFound)
	assert.ErrorIs(t, s.RemoveItem("tmp-nope"), apperror.ErrNotFound)
	assert.ErrorIs(t, s.AddToCart(aspirin, 0), apperror.ErrValidation)
}

func TestImmediate_RefetchesAfterMutation(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	s, _ := newStore(t, r, Options{Strategy: Immediate})

	require.NoError(t, s.AddToCart(aspirin, 2))
	flush(t, s)
	// another device added zinc in the meantime
	r.seed(zinc.ID, 1)
	require.NoError(t, s.AddToCart(aspirin, 1))
	flush(t, s)

	calls, _ := r.snapshot()
	assert.Equal(t, []string{"add", "fetch", "update", "fetch"}, calls)
	assert.Equal(t, map[uint64]int{aspirin.ID: 3, zinc.ID: 1}, quantities(s.Items()))
}

func TestImmediate_RollbackOnFailure(t *testing.T) {
	r := newFakeRemote(aspirin)
	r.seed(aspirin.ID, 1)
	s, sink := newStore(t, r, Options{Strategy: Immediate})
	require.NoError(t, s.Load(context.Background()))
	before := s.Items()

	r.mu.Lock()
	r.failUpdate = apperror.New(apperror.ErrServerRejected, "Only 1 items in stock")
	r.mu.Unlock()

	require.NoError(t, s.UpdateQuantity(before[0].ID, 2))
	flush(t, s)
	assert.Equal(t, before, s.Items())
	assert.Len(t, sink.all(), 1)
}

func TestLoad_ResetDuringFetchIsStale(t *testing.T) {
	r := newFakeRemote(aspirin)
	r.seed(aspirin.ID, 2)
	s, _ := newStore(t, r, Options{})
	r.onFetch = s.Reset

	assert.ErrorIs(t, s.Load(context.Background()), ErrStaleLoad)
	assert.Empty(t, s.Items())

	r.onFetch = nil
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, map[uint64]int{aspirin.ID: 2}, quantities(s.Items()))
}

func TestClearCart(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(aspirin.ID, 2)
	r.seed(zinc.ID, 1)
	s, _ := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.ClearCart())
	assert.Empty(t, s.Items())
	flush(t, s)

	assert.Empty(t, s.Items())
	assert.Zero(t, r.serverQty(aspirin.ID))
	calls, _ := r.snapshot()
	assert.Equal(t, []string{"fetch", "clear"}, calls)
}

func TestClearCartFailureRestores(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(aspirin.ID, 2)
	r.seed(zinc.ID, 1)
	s, sink := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))
	before := s.Items()

	r.mu.Lock()
	r.failClear = apperror.New(apperror.ErrNetworkFailure, "server unreachable")
	r.mu.Unlock()

	require.NoError(t, s.ClearCart())
	flush(t, s)

	assert.Equal(t, before, s.Items())
	errs := sink.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperror.ErrNetworkFailure)
}

func TestAddAfterClearIsSentAfterClear(t *testing.T) {
	r := newFakeRemote(aspirin, zinc)
	r.seed(aspirin.ID, 2)
	s, _ := newStore(t, r, Options{})
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.ClearCart())
	require.NoError(t, s.AddToCart(zinc, 1))
	flush(t, s)

	calls, _ := r.snapshot()
	assert.Equal(t, []string{"fetch", "clear", "add"}, calls)
	assert.Equal(t, map[uint64]int{zinc.ID: 1}, quantities(s.Items()))
	assert.Equal(t, 1, r.serverQty(zinc.ID))
}

func TestResetDiscardsInFlightResults(t *testing.T) {
	r := newFakeRemote(aspirin)
	s, _ := newStore(t, r, Options{Strategy: Immediate})

	r.mu.Lock()
	r.hold = make(chan struct{})
	hold := r.hold
	r.mu.Unlock()

	require.NoError(t, s.AddToCart(aspirin, 1))
	time.Sleep(30 * time.Millisecond)
	s.Reset()
	close(hold)
	flush(t, s)

	assert.Empty(t, s.Items())
}

func TestCheckout(t *testing.T) {
	r := newFakeRemote(aspirin)
	s, _ := newStore(t, r, Options{})

	_, err := s.Checkout(context.Background(), 3)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.ErrorIs(t, err, ErrEmptyCart)

	require.NoError(t, s.AddToCart(aspirin, 2))
	order, err := s.Checkout(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Empty(t, s.Items())

	calls, _ := r.snapshot()
	assert.Equal(t, []string{"add", "order"}, calls)
}

func TestOnChangeFires(t *testing.T) {
	r := newFakeRemote(aspirin)
	var mu sync.Mutex
	changes := 0
	s, _ := newStore(t, r, Options{OnChange: func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}})

	require.NoError(t, s.AddToCart(aspirin, 1))
	flush(t, s)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, changes, 2)
}
