// Package cartstore keeps a local, immediately updated view of the user's
// cart while the server cart stays the source of truth.
//
// Every mutation is recorded as a target quantity for a product line and
// becomes visible at once.  A line is reconciled with the server by
// comparing its target with the last quantity the server confirmed, so
// however many clicks were coalesced the request always carries the latest
// intent.  Each line has at most one request in flight; actions arriving
// meanwhile are held and sent once that request settles.  A failed request
// reverts the line to its last confirmed state.
package cartstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// Strategy selects how local changes reach the server.
type Strategy int

const (
	// Debounced buffers rapid changes to a line and sends one request
	// carrying the final target once the line has been idle for the
	// debounce window.
	Debounced Strategy = iota
	// Immediate sends each change at once and re-fetches the whole cart
	// after it succeeds.
	Immediate
)

// DefaultDebounce is the idle window used by Debounced.
const DefaultDebounce = 500 * time.Millisecond

// Remote is the server cart.  *apiclient.Client satisfies it.
type Remote interface {
	FetchCart(ctx context.Context) (model.Cart, error)
	AddCartItem(ctx context.Context, productID uint64, quantity int) (model.CartItem, error)
	UpdateCartItem(ctx context.Context, itemID uint64, quantity int) (*model.CartItem, error)
	RemoveCartItem(ctx context.Context, itemID uint64) error
	ClearCart(ctx context.Context) error
	CreateOrder(ctx context.Context, addressID uint64) (model.Order, error)
}

// Identity reports the logged-in user.  *session.Session satisfies it.
type Identity interface {
	User() *model.User
}

// Options tune a Store.  The zero value is a debounced store with no
// callbacks.
type Options struct {
	Strategy Strategy
	Debounce time.Duration
	// OnError receives every background reconciliation failure after the
	// local state has been reverted.
	OnError func(error)
	// OnChange is called after any change to the visible cart.
	OnChange func()
}

// Item is a visible cart line.  ID is the server line id once the server
// has confirmed the line and a temporary "tmp-" id before that; both
// resolve in UpdateQuantity and RemoveItem.
type Item struct {
	ID       string
	ServerID uint64
	Product  model.Product
	Quantity int
}

// Subtotal is price × quantity.
func (it Item) Subtotal() decimal.Decimal {
	return it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Totals are derived from the visible lines on every call.
type Totals struct {
	Items int
	Price decimal.Decimal
}

// MutationError is reported through OnError when the server rejected a
// line change.
type MutationError struct {
	ProductID   uint64
	ProductName string
	Err         error
}

func (e *MutationError) Error() string {
	if e.ProductID == 0 {
		return fmt.Sprintf("cart: clear: %v", e.Err)
	}
	return fmt.Sprintf("cart: %s: %v", e.ProductName, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// line is the state of one product line.  target is what the user sees;
// confirmed and serverID are what the server last acknowledged.
type line struct {
	product   model.Product
	tempID    string
	serverID  uint64
	confirmed int
	target    int

	pending  bool // target not yet sent
	inflight bool
	timer    *time.Timer
	gen      uint64
}

func (l *line) idle() bool {
	return !l.pending && !l.inflight && l.timer == nil
}

func (l *line) stopTimer() {
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// Store is safe for concurrent use.
type Store struct {
	remote   Remote
	identity Identity
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	settled  *sync.Cond
	lines    map[uint64]*line // keyed by product id
	order    []uint64
	aliases  map[string]uint64 // temp id → product id
	epoch    uint64            // bumped by Reset and Checkout
	confirms uint64            // bumped whenever a line result is applied
	active   int               // running reconciliations and clears
	clear    *clearOp
}

type clearOp struct {
	snapshot []lineSnapshot
}

type lineSnapshot struct {
	pid  uint64
	line line
}

// New returns an empty store.  Call Load after login to pick up the
// server cart.
func New(remote Remote, identity Identity, opts Options) *Store {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		remote:   remote,
		identity: identity,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		lines:    map[uint64]*line{},
		aliases:  map[string]uint64{},
	}
	s.settled = sync.NewCond(&s.mu)
	return s
}

func (s *Store) requireUser() error {
	if s.identity == nil || s.identity.User() == nil {
		return apperror.New(apperror.ErrUnauthenticated, "please log in to use the cart")
	}
	return nil
}

func (s *Store) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Store) report(err error) {
	log.Printf("cartstore: %v", err)
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// ----- reads -----

// Items returns the visible lines in insertion order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.order))
	for _, pid := range s.order {
		l := s.lines[pid]
		if l.target <= 0 {
			continue
		}
		out = append(out, Item{ID: l.visibleID(), ServerID: l.serverID, Product: l.product, Quantity: l.target})
	}
	return out
}

func (l *line) visibleID() string {
	if l.serverID != 0 {
		return strconv.FormatUint(l.serverID, 10)
	}
	return l.tempID
}

// Totals computes item count and price from the visible lines.
func (s *Store) Totals() Totals {
	t := Totals{Price: decimal.Zero}
	for _, it := range s.Items() {
		t.Items += it.Quantity
		t.Price = t.Price.Add(it.Subtotal())
	}
	return t
}

// TotalItems is Σ quantity.
func (s *Store) TotalItems() int { return s.Totals().Items }

// TotalPrice is Σ price × quantity.
func (s *Store) TotalPrice() decimal.Decimal { return s.Totals().Price }

// Quantity returns the visible quantity of a product, 0 when absent.
func (s *Store) Quantity(productID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lines[productID]; ok {
		return l.target
	}
	return 0
}

// ----- mutations -----

// AddToCart adds quantity units of product, creating the line if needed.
func (s *Store) AddToCart(product model.Product, quantity int) error {
	if err := s.requireUser(); err != nil {
		return err
	}
	if quantity < 1 {
		e := apperror.New(apperror.ErrValidation, "quantity must be at least 1")
		e.Fields = map[string][]string{"quantity": {"Ensure this value is greater than or equal to 1."}}
		return e
	}

	s.mu.Lock()
	l, ok := s.lines[product.ID]
	if !ok {
		l = &line{product: product}
		s.lines[product.ID] = l
		s.order = append(s.order, product.ID)
	} else {
		l.product = product
	}
	if l.serverID == 0 && l.tempID == "" {
		l.tempID = "tmp-" + uuid.NewString()
		s.aliases[l.tempID] = product.ID
	}
	l.target += quantity
	s.schedule(product.ID, l)
	s.mu.Unlock()

	s.changed()
	return nil
}

// UpdateQuantity sets a line's quantity.  A quantity of zero or less
// removes the line.
func (s *Store) UpdateQuantity(itemID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(itemID)
	}
	if err := s.requireUser(); err != nil {
		return err
	}
	s.mu.Lock()
	pid, l := s.find(itemID)
	if l == nil {
		s.mu.Unlock()
		return apperror.New(apperror.ErrNotFound, "cart item not found")
	}
	l.target = quantity
	s.schedule(pid, l)
	s.mu.Unlock()

	s.changed()
	return nil
}

// RemoveItem removes a line.
func (s *Store) RemoveItem(itemID string) error {
	if err := s.requireUser(); err != nil {
		return err
	}
	s.mu.Lock()
	pid, l := s.find(itemID)
	if l == nil {
		s.mu.Unlock()
		return apperror.New(apperror.ErrNotFound, "cart item not found")
	}
	l.target = 0
	s.schedule(pid, l)
	s.mu.Unlock()

	s.changed()
	return nil
}

// find resolves a visible line by server id or temporary id.  s.mu held.
func (s *Store) find(id string) (uint64, *line) {
	if pid, ok := s.aliases[id]; ok {
		if l := s.lines[pid]; l != nil && l.target > 0 {
			return pid, l
		}
		return 0, nil
	}
	sid, err := strconv.ParseUint(id, 10, 64)
	if err != nil || sid == 0 {
		return 0, nil
	}
	for pid, l := range s.lines {
		if l.serverID == sid && l.target > 0 {
			return pid, l
		}
	}
	return 0, nil
}

// ClearCart empties the cart locally at once and on the server in the
// background.  Line changes made while the clear is outstanding are held
// and sent after it.
func (s *Store) ClearCart() error {
	if err := s.requireUser(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.clear != nil {
		// the outstanding clear covers these lines too; none of them
		// has reached the server yet
		for _, l := range s.lines {
			l.stopTimer()
		}
		s.lines = map[uint64]*line{}
		s.order = nil
		s.aliases = map[string]uint64{}
		s.mu.Unlock()
		s.changed()
		return nil
	}
	snap := make([]lineSnapshot, 0, len(s.order))
	for _, pid := range s.order {
		l := s.lines[pid]
		l.stopTimer()
		snap = append(snap, lineSnapshot{pid: pid, line: *l})
	}
	s.lines = map[uint64]*line{}
	s.order = nil
	s.aliases = map[string]uint64{}
	op := &clearOp{snapshot: snap}
	s.clear = op
	s.active++
	s.mu.Unlock()

	go s.runClear(op)
	s.changed()
	return nil
}

func (s *Store) runClear(op *clearOp) {
	s.mu.Lock()
	// line requests that started before the clear must land first
	for s.active > 1 && s.clear == op {
		s.settled.Wait()
	}
	stale := s.clear != op
	s.mu.Unlock()

	var err error
	if !stale {
		err = s.remote.ClearCart(s.ctx)
	}

	s.mu.Lock()
	s.active--
	if s.clear != op {
		s.settled.Broadcast()
		s.mu.Unlock()
		return
	}
	s.clear = nil
	if err != nil {
		s.restore(op.snapshot)
	} else {
		// every line the server knew about is gone
		for _, l := range s.lines {
			l.serverID, l.confirmed = 0, 0
		}
	}
	for pid, l := range s.lines {
		if l.pending && l.timer == nil && !l.inflight {
			s.spawn(pid)
		}
	}
	s.gcAll()
	s.settled.Broadcast()
	s.mu.Unlock()

	if err != nil {
		s.report(&MutationError{Err: err})
	}
	s.changed()
}

// restore puts the pre-clear lines back in their old order.  Lines added
// while the clear was outstanding keep their newer target.  s.mu held.
func (s *Store) restore(snap []lineSnapshot) {
	added := s.order
	current := s.lines
	s.lines = map[uint64]*line{}
	s.order = nil
	for _, sn := range snap {
		l := sn.line
		l.timer = nil
		l.inflight = false
		if cur, ok := current[sn.pid]; ok {
			l.target = cur.target
			l.pending = true
		}
		restored := l
		s.lines[sn.pid] = &restored
		s.order = append(s.order, sn.pid)
		if restored.tempID != "" {
			s.aliases[restored.tempID] = sn.pid
		}
	}
	for _, pid := range added {
		if _, ok := s.lines[pid]; ok {
			continue
		}
		s.lines[pid] = current[pid]
		s.order = append(s.order, pid)
	}
	for pid, l := range s.lines {
		if l.pending && l.target == l.confirmed && (l.serverID != 0 || l.target == 0) {
			l.pending = false
		}
		if l.pending && s.opts.Strategy == Debounced {
			s.arm(pid, l)
		}
	}
}

// schedule records that l's target changed.  s.mu held.
func (s *Store) schedule(pid uint64, l *line) {
	l.pending = true
	if s.opts.Strategy == Immediate {
		if !l.inflight && s.clear == nil {
			s.spawn(pid)
		}
		return
	}
	s.arm(pid, l)
}

// arm (re)starts l's debounce timer.  The timer reads the target when it
// fires, not when it was armed.  s.mu held.
func (s *Store) arm(pid uint64, l *line) {
	l.stopTimer()
	gen := l.gen
	l.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(pid, gen) })
}

func (s *Store) fire(pid uint64, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[pid]
	if !ok || l.gen != gen {
		return
	}
	l.timer = nil
	if !l.inflight && s.clear == nil {
		s.spawn(pid)
	}
}

// spawn starts a reconciliation for pid.  s.mu held.
func (s *Store) spawn(pid uint64) {
	l := s.lines[pid]
	if l == nil || l.inflight || !l.pending {
		return
	}
	l.pending = false
	l.inflight = true
	s.active++
	go s.reconcile(pid, s.epoch, l.serverID, l.confirmed, l.target)
}

// result of one line request
type outcome struct {
	item    *model.CartItem // nil when the line is gone on the server
	skipped bool
}

func (s *Store) send(pid, serverID uint64, confirmed, target int) (outcome, error) {
	switch {
	case target == confirmed && (serverID != 0 || target == 0):
		return outcome{skipped: true}, nil
	case serverID == 0:
		it, err := s.remote.AddCartItem(s.ctx, pid, target)
		if err != nil {
			return outcome{}, err
		}
		return outcome{item: &it}, nil
	case target <= 0:
		if err := s.remote.RemoveCartItem(s.ctx, serverID); err != nil {
			return outcome{}, err
		}
		return outcome{}, nil
	default:
		it, err := s.remote.UpdateCartItem(s.ctx, serverID, target)
		if err != nil {
			return outcome{}, err
		}
		return outcome{item: it}, nil
	}
}

func (s *Store) reconcile(pid, epoch, serverID uint64, confirmed, target int) {
	res, err := s.send(pid, serverID, confirmed, target)

	var refreshed *model.Cart
	var seq uint64
	if err == nil && !res.skipped && s.opts.Strategy == Immediate {
		s.mu.Lock()
		seq = s.confirms
		s.mu.Unlock()
		cart, ferr := s.remote.FetchCart(s.ctx)
		if ferr != nil {
			log.Printf("cartstore: refetch after update failed: %v", ferr)
		} else {
			refreshed = &cart
		}
	}

	s.mu.Lock()
	s.active--
	defer s.settled.Broadcast()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	l, ok := s.lines[pid]
	if !ok || !l.inflight {
		// the line was cleared locally while its request was out
		if s.clear != nil {
			s.applyToSnapshot(pid, res, err)
		}
		s.mu.Unlock()
		return
	}
	l.inflight = false

	if err != nil {
		name := l.product.Name
		l.stopTimer()
		l.pending = false
		l.target = l.confirmed
		s.gc(pid)
		s.mu.Unlock()
		s.report(&MutationError{ProductID: pid, ProductName: name, Err: err})
		s.changed()
		return
	}

	// a cart fetched before another line's result landed is stale
	fresh := refreshed != nil && s.confirms == seq
	if !res.skipped {
		s.confirms++
		s.apply(pid, l, res.item)
		if !l.pending && l.timer == nil && l.confirmed != l.target && res.item != nil {
			// the server settled on a different quantity than asked
			l.target = l.confirmed
		}
	}
	if fresh {
		s.merge(*refreshed)
	}
	if l.pending && l.timer == nil && s.clear == nil {
		s.spawn(pid)
	}
	s.gc(pid)
	s.mu.Unlock()
	s.changed()
}

// apply records a confirmed server line, or its absence.  s.mu held.
func (s *Store) apply(pid uint64, l *line, item *model.CartItem) {
	if item == nil {
		l.serverID, l.confirmed = 0, 0
		if l.target > 0 && l.tempID == "" {
			l.tempID = "tmp-" + uuid.NewString()
			s.aliases[l.tempID] = pid
		}
		return
	}
	l.serverID = item.ID
	l.confirmed = item.Quantity
	if item.Product.ID == pid {
		l.product = item.Product
	}
}

// applyToSnapshot keeps the pre-clear snapshot accurate for a request
// that settled while the clear was outstanding.  s.mu held.
func (s *Store) applyToSnapshot(pid uint64, res outcome, err error) {
	for i := range s.clear.snapshot {
		sn := &s.clear.snapshot[i]
		if sn.pid != pid {
			continue
		}
		sn.line.inflight = false
		switch {
		case err != nil:
			sn.line.target = sn.line.confirmed
			sn.line.pending = false
		case !res.skipped:
			if res.item == nil {
				sn.line.serverID, sn.line.confirmed = 0, 0
			} else {
				sn.line.serverID, sn.line.confirmed = res.item.ID, res.item.Quantity
			}
		}
		return
	}
}

// merge folds a server cart into local state.  Lines with unsent or
// in-flight changes keep their local target.  s.mu held.
func (s *Store) merge(cart model.Cart) {
	seen := make(map[uint64]bool, len(cart.Items))
	for _, it := range cart.Items {
		pid := it.Product.ID
		seen[pid] = true
		l, ok := s.lines[pid]
		if !ok {
			l = &line{}
			s.lines[pid] = l
			s.order = append(s.order, pid)
		}
		l.product = it.Product
		l.serverID = it.ID
		l.confirmed = it.Quantity
		if l.idle() {
			l.target = it.Quantity
		}
	}
	for pid, l := range s.lines {
		if seen[pid] {
			continue
		}
		l.serverID, l.confirmed = 0, 0
		if l.idle() {
			l.target = 0
		} else if l.target > 0 && l.tempID == "" {
			l.tempID = "tmp-" + uuid.NewString()
			s.aliases[l.tempID] = pid
		}
	}
	s.gcAll()
}

// gc drops a line that is empty on both sides with nothing outstanding.
// s.mu held.
func (s *Store) gc(pid uint64) {
	l, ok := s.lines[pid]
	if !ok || l.target != 0 || l.confirmed != 0 || !l.idle() {
		return
	}
	delete(s.lines, pid)
	if l.tempID != "" {
		delete(s.aliases, l.tempID)
	}
	for i, p := range s.order {
		if p == pid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) gcAll() {
	for _, pid := range append([]uint64(nil), s.order...) {
		s.gc(pid)
	}
}

// ----- lifecycle -----

// ErrStaleLoad is returned by Load when the fetched cart was discarded
// because a mutation was confirmed or the store was reset while the fetch
// was in flight.  The store already holds newer state; callers that need
// the server view can call Load again.
var ErrStaleLoad = errors.New("cart load superseded by a newer change")

// Load replaces idle lines with the server cart.  It returns ErrStaleLoad
// when the result arrived too late to apply.
func (s *Store) Load(ctx context.Context) error {
	if err := s.requireUser(); err != nil {
		return err
	}
	s.mu.Lock()
	epoch, seq := s.epoch, s.confirms
	s.mu.Unlock()

	cart, err := s.remote.FetchCart(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if epoch != s.epoch || seq != s.confirms {
		s.mu.Unlock()
		return ErrStaleLoad
	}
	s.merge(cart)
	s.mu.Unlock()
	s.changed()
	return nil
}

// Flush sends every buffered change now and waits until all lines and any
// outstanding clear have settled.
func (s *Store) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.settled.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		busy := s.active > 0 || s.clear != nil
		if s.clear == nil {
			for pid, l := range s.lines {
				if l.timer != nil {
					l.stopTimer()
				}
				if l.pending && !l.inflight {
					s.spawn(pid)
				}
				if l.pending || l.inflight {
					busy = true
				}
			}
		}
		if !busy {
			return nil
		}
		s.settled.Wait()
	}
}

// Reset drops all local state without touching the server.  Results of
// requests still in flight are discarded.  It is called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	for _, l := range s.lines {
		l.stopTimer()
	}
	s.lines = map[uint64]*line{}
	s.order = nil
	s.aliases = map[string]uint64{}
	s.clear = nil
	s.epoch++
	s.settled.Broadcast()
	s.mu.Unlock()
	s.changed()
}

// Close stops timers and cancels requests in flight.
func (s *Store) Close() {
	s.mu.Lock()
	for _, l := range s.lines {
		l.stopTimer()
	}
	s.mu.Unlock()
	s.cancel()
}

// ErrEmptyCart is returned by Checkout when there is nothing to order.
var ErrEmptyCart = errors.New("cart is empty")

// Checkout sends buffered changes, places a cash-on-delivery order for
// the server cart and empties the local cart.
func (s *Store) Checkout(ctx context.Context, addressID uint64) (model.Order, error) {
	if err := s.requireUser(); err != nil {
		return model.Order{}, err
	}
	if err := s.Flush(ctx); err != nil {
		return model.Order{}, err
	}
	if s.TotalItems() == 0 {
		return model.Order{}, apperror.Wrap(apperror.ErrValidation, ErrEmptyCart, "cart is empty")
	}
	order, err := s.remote.CreateOrder(ctx, addressID)
	if err != nil {
		return model.Order{}, err
	}
	// the server cleared the cart as part of the order
	s.Reset()
	return order, nil
}
