package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// ----- auth -----

// ObtainToken exchanges credentials for a token pair (POST /token/).
func (c *Client) ObtainToken(ctx context.Context, username, password string) (model.TokenPair, error) {
	var tp model.TokenPair
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/token/",
		Body:   model.LoginRequest{Username: username, Password: password},
		NoAuth: true,
	}, &tp)
	return tp, err
}

// RefreshToken exchanges a refresh token for a new access token
// (POST /token/refresh/).  It never goes through refresh-and-retry.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	var rr model.RefreshResponse
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/token/refresh/",
		Body:   model.RefreshRequest{Refresh: refresh},
		NoAuth: true,
	}, &rr)
	return rr.Access, err
}

// RevokeToken invalidates a refresh token server side (POST /token/revoke/).
func (c *Client) RevokeToken(ctx context.Context, refresh string) error {
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/token/revoke/",
		Body:   model.RefreshRequest{Refresh: refresh},
		NoAuth: true,
	}, nil)
}

// Me fetches the current user (GET /me/).  When bearer is non-empty it is
// used instead of the session token.
func (c *Client) Me(ctx context.Context, bearer string) (model.User, error) {
	var u model.User
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/me/", Bearer: bearer}, &u)
	return u, err
}

// Register creates an account (POST /register/).
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (model.User, error) {
	var resp model.RegisterResponse
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/register/", Body: req, NoAuth: true}, &resp)
	return resp.User, err
}

// RequestPasswordReset asks the server to mail a reset token.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/password-reset/",
		Body:   model.PasswordResetRequest{Email: email},
		NoAuth: true,
	}, nil)
}

// ConfirmPasswordReset sets a new password using a mailed token.
func (c *Client) ConfirmPasswordReset(ctx context.Context, req model.PasswordResetConfirm) error {
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/password-reset/confirm/",
		Body:   req,
		NoAuth: true,
	}, nil)
}

// ----- catalog -----

// ProductQuery filters GET /products/.
type ProductQuery struct {
	Search     string
	CategoryID uint64
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.CategoryID != 0 {
		v.Set("category", strconv.FormatUint(q.CategoryID, 10))
	}
	return v
}

// ListProducts lists or searches the catalog.
func (c *Client) ListProducts(ctx context.Context, q ProductQuery) ([]model.Product, error) {
	var out []model.Product
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/products/", Query: q.values()}, &out)
	return out, err
}

// GetProduct fetches one product.
func (c *Client) GetProduct(ctx context.Context, id uint64) (model.Product, error) {
	var p model.Product
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: fmt.Sprintf("/products/%d/", id)}, &p)
	return p, err
}

// CreateProduct adds a product (staff only).
func (c *Client) CreateProduct(ctx context.Context, in model.ProductInput) (model.Product, error) {
	var p model.Product
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/products/", Body: in}, &p)
	return p, err
}

// UpdateProduct patches a product (staff only).
func (c *Client) UpdateProduct(ctx context.Context, id uint64, in model.ProductInput) (model.Product, error) {
	var p model.Product
	err := c.Do(ctx, Request{Method: http.MethodPatch, Path: fmt.Sprintf("/products/%d/", id), Body: in}, &p)
	return p, err
}

// DeleteProduct removes a product (staff only).
func (c *Client) DeleteProduct(ctx context.Context, id uint64) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: fmt.Sprintf("/products/%d/", id)}, nil)
}

// ListCategories lists catalog categories.
func (c *Client) ListCategories(ctx context.Context) ([]model.Category, error) {
	var out []model.Category
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/categories/"}, &out)
	return out, err
}

// ----- cart -----

// FetchCart returns the server cart (GET /cart/).
func (c *Client) FetchCart(ctx context.Context) (model.Cart, error) {
	var cart model.Cart
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/cart/"}, &cart)
	return cart, err
}

// AddCartItem adds quantity units of a product (POST /cart/add_item/).
// The server increments an existing line.
func (c *Client) AddCartItem(ctx context.Context, productID uint64, quantity int) (model.CartItem, error) {
	var it model.CartItem
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/cart/add_item/",
		Body:   model.AddCartItemRequest{ProductID: productID, Quantity: quantity},
	}, &it)
	return it, err
}

// UpdateCartItem sets a line's quantity (PATCH /cart/update_item/).  The
// returned item is nil when the server removed the line.
func (c *Client) UpdateCartItem(ctx context.Context, itemID uint64, quantity int) (*model.CartItem, error) {
	var resp struct {
		model.CartItem
		Message string `json:"message"`
	}
	err := c.Do(ctx, Request{
		Method: http.MethodPatch,
		Path:   "/cart/update_item/",
		Body:   model.UpdateCartItemRequest{CartItemID: itemID, Quantity: &quantity},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		return nil, nil
	}
	it := resp.CartItem
	return &it, nil
}

// RemoveCartItem deletes a line (DELETE /cart/remove_item/).
func (c *Client) RemoveCartItem(ctx context.Context, itemID uint64) error {
	return c.Do(ctx, Request{
		Method: http.MethodDelete,
		Path:   "/cart/remove_item/",
		Body:   model.RemoveCartItemRequest{CartItemID: itemID},
	}, nil)
}

// ClearCart empties the cart (DELETE /cart/clear/).
func (c *Client) ClearCart(ctx context.Context) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: "/cart/clear/"}, nil)
}

// ----- orders -----

// ListOrders lists the caller's orders, or every order for staff.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/orders/"}, &out)
	return out, err
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id uint64) (model.Order, error) {
	var o model.Order
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: fmt.Sprintf("/orders/%d/", id)}, &o)
	return o, err
}

// CreateOrder places an order from the current server cart.
func (c *Client) CreateOrder(ctx context.Context, addressID uint64) (model.Order, error) {
	var o model.Order
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/orders/",
		Body:   model.CreateOrderRequest{DeliveryAddressID: addressID},
	}, &o)
	return o, err
}

// UpdateOrderStatus changes an order's status (staff only).
func (c *Client) UpdateOrderStatus(ctx context.Context, id uint64, status string) (model.Order, error) {
	var o model.Order
	err := c.Do(ctx, Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/orders/%d/update_status/", id),
		Body:   model.UpdateOrderStatusRequest{Status: status},
	}, &o)
	return o, err
}

// ----- addresses -----

// ListAddresses lists the caller's delivery addresses.
func (c *Client) ListAddresses(ctx context.Context) ([]model.Address, error) {
	var out []model.Address
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/addresses/"}, &out)
	return out, err
}

// CreateAddress stores a new delivery address.
func (c *Client) CreateAddress(ctx context.Context, a model.Address) (model.Address, error) {
	var out model.Address
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/addresses/", Body: a}, &out)
	return out, err
}

// UpdateAddress replaces a delivery address.
func (c *Client) UpdateAddress(ctx context.Context, a model.Address) (model.Address, error) {
	var out model.Address
	err := c.Do(ctx, Request{Method: http.MethodPut, Path: fmt.Sprintf("/addresses/%d/", a.ID), Body: a}, &out)
	return out, err
}

// DeleteAddress removes a delivery address.
func (c *Client) DeleteAddress(ctx context.Context, id uint64) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: fmt.Sprintf("/addresses/%d/", id)}, nil)
}
