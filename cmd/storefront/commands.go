package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/pharmacy-storefront/internal/apiclient"
	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
	"github.com/iliyamo/pharmacy-storefront/internal/cartstore"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/session"
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func passwordFrom(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("STOREFRONT_PASSWORD")
}

// ----- auth -----

func loginCommand(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	username := fs.String("username", "", "account username (required)")
	password := fs.String("password", "", "password (or STOREFRONT_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.Login(ctx, *username, passwordFrom(*password)); err != nil {
		return err
	}
	u := a.session.User()
	fmt.Fprintf(a.out, "Logged in as %s.\n", u.Username)
	return nil
}

func registerCommand(ctx context.Context, a *app, args []string) error {
	fs := newFlags("register")
	var req model.RegisterRequest
	fs.StringVar(&req.Username, "username", "", "username (required)")
	fs.StringVar(&req.Email, "email", "", "email (required)")
	fs.StringVar(&req.Password, "password", "", "password (or STOREFRONT_PASSWORD)")
	fs.StringVar(&req.PasswordConfirm, "password-confirm", "", "repeat the password (defaults to --password)")
	fs.StringVar(&req.FirstName, "first-name", "", "first name")
	fs.StringVar(&req.LastName, "last-name", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req.Password = passwordFrom(req.Password)

	err := a.session.Register(ctx, req)
	if errors.Is(err, session.ErrAccountCreated) {
		fmt.Fprintln(a.out, "Your account was created, but signing in failed. Please run 'storefront login'.")
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome, %s! You are logged in.\n", req.Username)
	return nil
}

func logoutCommand(ctx context.Context, a *app, _ []string) error {
	if refresh := a.session.RefreshToken(); refresh != "" {
		// best effort; the local session is dropped either way
		if err := a.client.RevokeToken(ctx, refresh); err != nil {
			log.Printf("logout: revoke failed: %v", err)
		}
	}
	a.session.Logout()
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func whoamiCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	// re-read from the server so an expired session is noticed
	u, err := a.client.Me(ctx, "")
	if err != nil {
		return err
	}
	role := "customer"
	if u.IsStaff {
		role = "staff"
	}
	fmt.Fprintf(a.out, "%s <%s> (%s)\n", u.Username, u.Email, role)
	return nil
}

func forgotPasswordCommand(ctx context.Context, a *app, args []string) error {
	fs := newFlags("forgot-password")
	email := fs.String("email", "", "account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.RequestPasswordReset(ctx, *email); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "If an account exists for that email, a reset link has been sent.")
	return nil
}

func resetPasswordCommand(ctx context.Context, a *app, args []string) error {
	fs := newFlags("reset-password")
	token := fs.String("token", "", "token from the reset email (required)")
	password := fs.String("password", "", "new password (or STOREFRONT_PASSWORD)")
	confirm := fs.String("password-confirm", "", "repeat the new password (defaults to --password)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw := passwordFrom(*password)
	c := *confirm
	if c == "" {
		c = pw
	}
	if err := a.session.ConfirmPasswordReset(ctx, *token, pw, c); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password updated. You can log in with the new password.")
	return nil
}

// ----- catalog -----

func productsCommand(ctx context.Context, a *app, args []string) error {
	fs := newFlags("products")
	category := fs.Uint64("category", 0, "category id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	products, err := a.client.ListProducts(ctx, apiclient.ProductQuery{
		Search:     strings.Join(fs.Args(), " "),
		CategoryID: *category,
	})
	if err != nil {
		return err
	}
	printProducts(a, products)
	return nil
}

func printProducts(a *app, products []model.Product) {
	if len(products) == 0 {
		fmt.Fprintln(a.out, "No products found.")
		return
	}
	t := NewTableWriter(a.out, "ID", "NAME", "CATEGORY", "PRICE (AED)", "STOCK", "RX")
	for _, p := range products {
		rx := ""
		if p.RequiresPrescription {
			rx = "yes"
		}
		stock := strconv.Itoa(p.StockQuantity)
		if !p.InStock {
			stock = "out of stock"
		}
		t.AddRow(strconv.FormatUint(p.ID, 10), p.Name, p.CategoryName, p.Price.StringFixed(2), stock, rx)
	}
	t.Print()
}

func categoriesCommand(ctx context.Context, a *app, _ []string) error {
	cats, err := a.client.ListCategories(ctx)
	if err != nil {
		return err
	}
	t := NewTableWriter(a.out, "ID", "NAME", "PRODUCTS")
	for _, c := range cats {
		t.AddRow(strconv.FormatUint(c.ID, 10), c.Name, strconv.Itoa(c.ProductCount))
	}
	t.Print()
	return nil
}

// suggestCommand replays the text one keystroke at a time, as a search
// box would, and prints only the suggestions for the final text.
func suggestCommand(ctx context.Context, a *app, args []string) error {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		return apperror.New(apperror.ErrValidation, "nothing to search for")
	}
	s := apiclient.NewSuggester(a.client, a.cfg.SuggestLimit)

	var mu sync.Mutex
	var shown []model.Product
	var wg sync.WaitGroup
	runes := []rune(text)
	for i := 1; i <= len(runes); i++ {
		prefix := string(runes[:i])
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Suggest(ctx, prefix, func(ps []model.Product) {
				mu.Lock()
				shown = ps
				mu.Unlock()
			})
			if err != nil && !errors.Is(err, apiclient.ErrSuperseded) {
				fmt.Fprintf(os.Stderr, "suggest %q: %s\n", prefix, describe(err))
			}
		}()
		time.Sleep(40 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	printProducts(a, shown)
	return nil
}

// ----- cart -----

func loadCart(ctx context.Context, a *app) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.cart.Load(ctx); err != nil && !errors.Is(err, cartstore.ErrStaleLoad) {
		return err
	}
	return nil
}

func printCart(a *app) {
	items := a.cart.Items()
	if len(items) == 0 {
		fmt.Fprintln(a.out, "Your cart is empty.")
		return
	}
	t := NewTableWriter(a.out, "ITEM", "PRODUCT", "QTY", "PRICE", "SUBTOTAL")
	for _, it := range items {
		t.AddRow(it.ID, it.Product.Name, strconv.Itoa(it.Quantity),
			it.Product.Price.StringFixed(2), it.Subtotal().StringFixed(2))
	}
	t.Print()
	totals := a.cart.Totals()
	fmt.Fprintf(a.out, "%d item(s), total AED %s\n", totals.Items, totals.Price.StringFixed(2))
}

func cartCommand(ctx context.Context, a *app, _ []string) error {
	if err := loadCart(ctx, a); err != nil {
		return err
	}
	printCart(a)
	return nil
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		e := apperror.New(apperror.ErrValidation, "quantity must be a whole number")
		e.Fields = map[string][]string{"quantity": {fmt.Sprintf("%q is not a number", s)}}
		return 0, e
	}
	return n, nil
}

func addCommand(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return apperror.New(apperror.ErrValidation, "usage: storefront add <product-id> [quantity]")
	}
	pid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return apperror.New(apperror.ErrValidation, "product id must be a number")
	}
	qty := 1
	if len(args) > 1 {
		if qty, err = parseQuantity(args[1]); err != nil {
			return err
		}
	}
	if err := loadCart(ctx, a); err != nil {
		return err
	}
	product, err := a.client.GetProduct(ctx, pid)
	if err != nil {
		return err
	}
	if err := a.cart.AddToCart(product, qty); err != nil {
		return err
	}
	if err := a.settleCart(ctx); err != nil {
		printCart(a)
		return err
	}
	fmt.Fprintf(a.out, "Added %d × %s.\n", qty, product.Name)
	printCart(a)
	return nil
}

func setCommand(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return apperror.New(apperror.ErrValidation, "usage: storefront set <item-id> <quantity>")
	}
	qty, err := parseQuantity(args[1])
	if err != nil {
		return err
	}
	if err := loadCart(ctx, a); err != nil {
		return err
	}
	if err := a.cart.UpdateQuantity(args[0], qty); err != nil {
		return err
	}
	err = a.settleCart(ctx)
	printCart(a)
	return err
}

func removeCommand(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return apperror.New(apperror.ErrValidation, "usage: storefront remove <item-id>")
	}
	if err := loadCart(ctx, a); err != nil {
		return err
	}
	if err := a.cart.RemoveItem(args[0]); err != nil {
		return err
	}
	err := a.settleCart(ctx)
	printCart(a)
	return err
}

func clearCommand(ctx context.Context, a *app, _ []string) error {
	if err := loadCart(ctx, a); err != nil {
		return err
	}
	if err := a.cart.ClearCart(); err != nil {
		return err
	}
	err := a.settleCart(ctx)
	printCart(a)
	return err
}

func checkoutCommand(ctx context.Context, a *app, args []string) error {
	fs := newFlags("checkout")
	addressID := fs.Uint64("address", 0, "delivery address id (see 'storefront addresses')")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *addressID == 0 {
		e := apperror.New(apperror.ErrValidation, "a delivery address is required")
		e.Fields = map[string][]string{"delivery_address": {"This field is required."}}
		return e
	}
	if err := loadCart(ctx, a); err != nil {
		return err
	}
	order, err := a.cart.Checkout(ctx, *addressID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Order #%d placed (%s). Total AED %s, cash on delivery.\n",
		order.ID, order.Status, order.TotalAmount.StringFixed(2))
	return nil
}

// ----- orders & addresses -----

func ordersCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	orders, err := a.client.ListOrders(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(a.out, "No orders yet.")
		return nil
	}
	t := NewTableWriter(a.out, "ORDER", "PLACED", "STATUS", "ITEMS", "TOTAL (AED)")
	for _, o := range orders {
		n := 0
		for _, it := range o.Items {
			n += it.Quantity
		}
		t.AddRow(strconv.FormatUint(o.ID, 10), o.CreatedAt.Format("2006-01-02 15:04"),
			o.Status, strconv.Itoa(n), o.TotalAmount.StringFixed(2))
	}
	t.Print()
	return nil
}

func addressesCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	addrs, err := a.client.ListAddresses(ctx)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		fmt.Fprintln(a.out, "No saved addresses. Add one with 'storefront add-address'.")
		return nil
	}
	t := NewTableWriter(a.out, "ID", "NAME", "PHONE", "ADDRESS", "DEFAULT")
	for _, ad := range addrs {
		def := ""
		if ad.IsDefault {
			def = "*"
		}
		line := strings.Join(nonEmpty(ad.Building, ad.StreetAddress, ad.Area, ad.City, ad.Emirate), ", ")
		t.AddRow(strconv.FormatUint(ad.ID, 10), ad.FullName, ad.PhoneNumber, line, def)
	}
	t.Print()
	return nil
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addAddressCommand(ctx context.Context, a *app, args []string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	fs := newFlags("add-address")
	var ad model.Address
	fs.StringVar(&ad.FullName, "full-name", "", "recipient name (required)")
	fs.StringVar(&ad.PhoneNumber, "phone", "", "UAE phone number, e.g. +971501234567 (required)")
	fs.StringVar(&ad.StreetAddress, "street", "", "street address (required)")
	fs.StringVar(&ad.Building, "building", "", "villa or building")
	fs.StringVar(&ad.Area, "area", "", "area, e.g. Dubai Marina (required)")
	fs.StringVar(&ad.City, "city", "Dubai", "city")
	fs.StringVar(&ad.Emirate, "emirate", "Dubai", "emirate")
	fs.StringVar(&ad.PostalCode, "postal-code", "", "postal code")
	fs.BoolVar(&ad.IsDefault, "default", false, "make this the default address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	created, err := a.client.CreateAddress(ctx, ad)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved address #%d.\n", created.ID)
	return nil
}
