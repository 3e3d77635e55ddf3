package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pharmacy-storefront/internal/config"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/queue"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
	"github.com/iliyamo/pharmacy-storefront/internal/utils"
)

const testSecret = "handler-secret"

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      testSecret,
		AccessTTLMin:   5,
		RefreshTTLDays: 1,
		BcryptCost:     4,
		FrontendURL:    "http://shop.test/",
	}
}

// ----- users / tokens -----

type fakeUsers struct {
	mu     sync.Mutex
	users  map[uint64]repository.User
	nextID uint64
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[uint64]repository.User{}, nextID: 1} }

func (f *fakeUsers) Create(_ context.Context, nu repository.NewUser, cost int) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == nu.Username {
			return repository.User{}, repository.ErrUsernameExists
		}
	}
	hash, err := utils.HashPassword(nu.Password, cost)
	if err != nil {
		return repository.User{}, err
	}
	u := repository.User{
		ID: f.nextID, Username: nu.Username, Email: strings.ToLower(nu.Email), PasswordHash: hash,
		FirstName: nu.FirstName, LastName: nu.LastName, IsActive: true, DateJoined: time.Now().UTC(),
	}
	f.users[u.ID] = u
	f.nextID++
	return u, nil
}

func (f *fakeUsers) add(t *testing.T, username, password string, staff bool) repository.User {
	t.Helper()
	u, err := f.Create(context.Background(), repository.NewUser{Username: username, Email: username + "@example.ae", Password: password}, 4)
	require.NoError(t, err)
	if staff {
		f.mu.Lock()
		u.IsStaff = true
		f.users[u.ID] = u
		f.mu.Unlock()
	}
	return u
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return repository.User{}, repository.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return repository.User{}, repository.ErrNotFound
}

func (f *fakeUsers) SetPassword(_ context.Context, id uint64, password string, cost int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	f.users[id] = u
	return nil
}

type refreshRow struct {
	userID  uint64
	exp     time.Time
	revoked bool
}

type fakeTokens struct {
	mu   sync.Mutex
	rows map[string]*refreshRow
}

func newFakeTokens() *fakeTokens { return &fakeTokens{rows: map[string]*refreshRow{}} }

func (f *fakeTokens) StoreRefresh(_ context.Context, userID uint64, hash string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[hash] = &refreshRow{userID: userID, exp: exp}
	return nil
}

func (f *fakeTokens) ValidateRefresh(_ context.Context, hash string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[hash]
	if !ok || r.revoked || time.Now().After(r.exp) {
		return 0, repository.ErrNotFound
	}
	return r.userID, nil
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[hash]; ok {
		r.revoked = true
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.userID == userID {
			r.revoked = true
		}
	}
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []queue.Notification
	err  error
}

func (f *fakeNotifier) Publish(_ context.Context, n queue.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (f *fakeNotifier) last() queue.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// ----- catalog / cart / orders -----

// fakeShop is one in-memory store backing Catalog, Carts, Addresses and
// Orders so orders see cart and stock changes.
type fakeShop struct {
	mu         sync.Mutex
	categories map[uint64]model.Category
	products   map[uint64]model.Product
	carts      map[uint64][]model.CartItem // by user
	addresses  map[uint64]map[uint64]model.Address
	orders     map[uint64]model.Order
	owners     map[uint64]uint64 // order id -> user id
	next       uint64
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		categories: map[uint64]model.Category{},
		products:   map[uint64]model.Product{},
		carts:      map[uint64][]model.CartItem{},
		addresses:  map[uint64]map[uint64]model.Address{},
		orders:     map[uint64]model.Order{},
		owners:     map[uint64]uint64{},
		next:       1,
	}
}

func (f *fakeShop) id() uint64 { f.next++; return f.next - 1 }

func (f *fakeShop) addProduct(name, price string, stock int) model.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := model.Product{ID: f.id(), Name: name, Price: decimal.RequireFromString(price), StockQuantity: stock, InStock: stock > 0}
	f.products[p.ID] = p
	return p
}

func (f *fakeShop) ListProducts(_ context.Context, flt repository.ProductFilter) ([]model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Product{}
	for _, p := range f.products {
		if flt.Search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Description), strings.ToLower(flt.Search)) {
			continue
		}
		if flt.CategoryID != 0 && (p.CategoryID == nil || *p.CategoryID != flt.CategoryID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeShop) GetProduct(_ context.Context, id uint64) (model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return model.Product{}, repository.ErrNotFound
	}
	return p, nil
}

func productFrom(id uint64, pf repository.ProductFields) model.Product {
	return model.Product{
		ID: id, Name: pf.Name, Description: pf.Description, Price: pf.Price, StockQuantity: pf.StockQuantity,
		CategoryID: pf.CategoryID, ImageURL: pf.ImageURL, RequiresPrescription: pf.RequiresPrescription,
		InStock: pf.StockQuantity > 0,
	}
}

func (f *fakeShop) CreateProduct(_ context.Context, pf repository.ProductFields) (model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := productFrom(f.id(), pf)
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeShop) UpdateProduct(_ context.Context, id uint64, pf repository.ProductFields) (model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[id]; !ok {
		return model.Product{}, repository.ErrNotFound
	}
	p := productFrom(id, pf)
	f.products[id] = p
	return p, nil
}

func (f *fakeShop) DeleteProduct(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.products, id)
	return nil
}

func (f *fakeShop) ListCategories(context.Context) ([]model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Category{}
	for _, c := range f.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeShop) GetCategory(_ context.Context, id uint64) (model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[id]
	if !ok {
		return model.Category{}, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeShop) CreateCategory(_ context.Context, in model.CategoryInput) (model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.categories {
		if c.Name == in.Name {
			return model.Category{}, repository.ErrConflict
		}
	}
	c := model.Category{ID: f.id(), Name: in.Name, Description: in.Description}
	f.categories[c.ID] = c
	return c, nil
}

func (f *fakeShop) UpdateCategory(_ context.Context, id uint64, in model.CategoryInput) (model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[id]
	if !ok {
		return model.Category{}, repository.ErrNotFound
	}
	c.Name, c.Description = in.Name, in.Description
	f.categories[id] = c
	return c, nil
}

func (f *fakeShop) DeleteCategory(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.categories[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.categories, id)
	return nil
}

// Carts

func (f *fakeShop) Get(_ context.Context, userID uint64) (model.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append([]model.CartItem{}, f.carts[userID]...)
	for i := range items {
		items[i].Product = f.products[items[i].Product.ID]
		items[i].Subtotal = items[i].Product.Price.Mul(decimal.NewFromInt(int64(items[i].Quantity)))
	}
	total, n := repository.CartTotals(items)
	return model.Cart{ID: userID, Items: items, TotalPrice: total, TotalItems: n}, nil
}

func (f *fakeShop) AddItem(_ context.Context, userID, productID uint64, qty int) (model.CartItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return model.CartItem{}, false, repository.ErrNotFound
	}
	if p.StockQuantity < qty {
		return model.CartItem{}, false, &repository.StockError{ProductName: p.Name, Available: p.StockQuantity}
	}
	items := f.carts[userID]
	for i := range items {
		if items[i].Product.ID == productID {
			if items[i].Quantity+qty > p.StockQuantity {
				return model.CartItem{}, false, &repository.StockError{ProductName: p.Name, Available: p.StockQuantity}
			}
			items[i].Quantity += qty
			return items[i], false, nil
		}
	}
	it := model.CartItem{ID: f.id(), Product: p, Quantity: qty}
	f.carts[userID] = append(items, it)
	return it, true, nil
}

func (f *fakeShop) UpdateItem(_ context.Context, userID, itemID uint64, qty int) (*model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[userID]
	for i := range items {
		if items[i].ID != itemID {
			continue
		}
		p := f.products[items[i].Product.ID]
		if qty > p.StockQuantity {
			return nil, &repository.StockError{ProductName: p.Name, Available: p.StockQuantity}
		}
		if qty <= 0 {
			f.carts[userID] = append(items[:i:i], items[i+1:]...)
			return nil, nil
		}
		items[i].Quantity = qty
		it := items[i]
		return &it, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeShop) RemoveItem(_ context.Context, userID, itemID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[userID]
	for i := range items {
		if items[i].ID == itemID {
			f.carts[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeShop) Clear(_ context.Context, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[userID] = nil
	return nil
}

// fakeAddresses adapts fakeShop to the Addresses interface, whose method
// names overlap with Carts.
type fakeAddresses struct{ *fakeShop }

func (f fakeAddresses) List(_ context.Context, userID uint64) ([]model.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Address{}
	for _, a := range f.addresses[userID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeAddresses) Get(_ context.Context, userID, id uint64) (model.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.addresses[userID][id]
	if !ok {
		return model.Address{}, repository.ErrNotFound
	}
	return a, nil
}

func (f fakeAddresses) Create(_ context.Context, userID uint64, a model.Address) (model.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addresses[userID] == nil {
		f.addresses[userID] = map[uint64]model.Address{}
	}
	a.ID = f.id()
	f.addresses[userID][a.ID] = a
	return a, nil
}

func (f fakeAddresses) Update(_ context.Context, userID uint64, a model.Address) (model.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.addresses[userID][a.ID]; !ok {
		return model.Address{}, repository.ErrNotFound
	}
	f.addresses[userID][a.ID] = a
	return a, nil
}

func (f fakeAddresses) Delete(_ context.Context, userID, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.addresses[userID][id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.addresses[userID], id)
	return nil
}

// fakeOrders adapts fakeShop to the Orders interface.
type fakeOrders struct{ *fakeShop }

func (f fakeOrders) Create(_ context.Context, userID, addressID uint64) (repository.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[userID]
	if len(items) == 0 {
		return repository.PlacedOrder{}, repository.ErrEmptyCart
	}
	a, ok := f.addresses[userID][addressID]
	if !ok {
		return repository.PlacedOrder{}, repository.ErrNotFound
	}
	o := model.Order{ID: f.id(), DeliveryAddress: &a, Status: model.OrderPending, TotalAmount: decimal.Zero}
	for _, it := range items {
		p := f.products[it.Product.ID]
		if it.Quantity > p.StockQuantity {
			return repository.PlacedOrder{}, &repository.StockError{ProductName: p.Name, Available: p.StockQuantity}
		}
	}
	for _, it := range items {
		p := f.products[it.Product.ID]
		pid := p.ID
		sub := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, model.OrderItem{ID: f.id(), ProductID: &pid, ProductName: p.Name,
			Quantity: it.Quantity, PriceAtPurchase: p.Price, Subtotal: sub})
		o.TotalAmount = o.TotalAmount.Add(sub)
		p.StockQuantity -= it.Quantity
		f.products[p.ID] = p
	}
	f.carts[userID] = nil
	f.orders[o.ID] = o
	f.owners[o.ID] = userID
	return repository.PlacedOrder{Order: o, Email: "buyer@example.ae"}, nil
}

func (f fakeOrders) Get(_ context.Context, id, userID uint64, isStaff bool) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || (!isStaff && f.owners[id] != userID) {
		return model.Order{}, repository.ErrNotFound
	}
	return o, nil
}

func (f fakeOrders) List(_ context.Context, userID uint64, isStaff bool) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Order{}
	for id, o := range f.orders {
		if isStaff || f.owners[id] == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f fakeOrders) UpdateStatus(_ context.Context, id uint64, status string) (repository.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return repository.StatusChange{}, repository.ErrNotFound
	}
	old := o.Status
	o.Status = status
	if status == model.OrderDelivered {
		now := time.Now().UTC()
		o.DeliveredAt = &now
	}
	f.orders[id] = o
	return repository.StatusChange{Order: o, OldStatus: old, UserID: f.owners[id], Email: "buyer@example.ae"}, nil
}

// ----- HTTP helpers -----

func bearerFor(t *testing.T, u repository.User) string {
	t.Helper()
	at, err := utils.NewAccessToken(testSecret, u.ID, u.Username, u.IsStaff, 5)
	require.NoError(t, err)
	return at.Token
}

func call(t *testing.T, e *echo.Echo, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
