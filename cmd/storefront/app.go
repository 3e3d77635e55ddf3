package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/iliyamo/pharmacy-storefront/internal/apiclient"
	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
	"github.com/iliyamo/pharmacy-storefront/internal/cartstore"
	"github.com/iliyamo/pharmacy-storefront/internal/clientconfig"
	"github.com/iliyamo/pharmacy-storefront/internal/session"
	"github.com/iliyamo/pharmacy-storefront/internal/storage"
	"github.com/iliyamo/pharmacy-storefront/internal/telemetry"
)

// app wires the client core for one command invocation.
type app struct {
	cfg     clientconfig.Config
	client  *apiclient.Client
	session *session.Session
	cart    *cartstore.Store
	out     io.Writer

	errMu   sync.Mutex
	cartErr []error

	stopTracing func(context.Context) error
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := clientconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Cart.ParseStrategy()
	if err != nil {
		return nil, err
	}

	var spans io.Writer
	if cfg.Trace {
		spans = os.Stderr
	}
	stopTracing, err := telemetry.Setup("storefront", spans)
	if err != nil {
		return nil, err
	}

	client, err := apiclient.New(apiclient.Config{BaseURL: cfg.APIURL, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	sess := session.New(client, storage.NewFileStore(cfg.SessionFile))
	client.SetTokenSource(sess)

	a := &app{cfg: cfg, client: client, session: sess, out: os.Stdout, stopTracing: stopTracing}
	a.cart = cartstore.New(client, sess, cartstore.Options{
		Strategy: strategy,
		Debounce: cfg.Cart.Debounce,
		OnError:  a.recordCartError,
	})
	sess.Subscribe(func(st session.State) {
		switch st {
		case session.LoggedOut:
			a.cart.Reset()
		case session.RefreshFailed:
			fmt.Fprintln(os.Stderr, "Your session has expired. Please log in again.")
		}
	})
	if err := sess.Restore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) recordCartError(err error) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	a.cartErr = append(a.cartErr, err)
}

// cartErrors returns and forgets the background cart failures seen so far.
func (a *app) cartErrors() []error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	errs := a.cartErr
	a.cartErr = nil
	return errs
}

// settleCart waits for cart requests and prints any reverted change.
func (a *app) settleCart(ctx context.Context) error {
	if err := a.cart.Flush(ctx); err != nil {
		return err
	}
	errs := a.cartErrors()
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "Reverted: %s\n", describe(err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d cart change(s) were rejected", len(errs))
	}
	return nil
}

func (a *app) requireLogin() error {
	if !a.session.IsAuthenticated() {
		return apperror.New(apperror.ErrUnauthenticated, "not logged in; run 'storefront login' first")
	}
	return nil
}

// Close stops cart timers and flushes pending spans.
func (a *app) Close() {
	a.cart.Close()
	if a.stopTracing != nil {
		_ = a.stopTracing(context.Background())
	}
}

// describe renders err for a terminal, field errors included.
func describe(err error) string {
	msg := apperror.Message(err)
	var me *cartstore.MutationError
	if errors.As(err, &me) && me.ProductName != "" {
		msg = me.ProductName + ": " + msg
	}
	for field, msgs := range apperror.FieldErrors(err) {
		for _, m := range msgs {
			msg += fmt.Sprintf("\n  %s: %s", field, m)
		}
	}
	return msg
}
