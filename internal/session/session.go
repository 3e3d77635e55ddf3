// Package session owns the client's authentication lifecycle: the
// access/refresh token pair, the cached user profile and the transitions
//
//	LoggedOut → Authenticating → LoggedIn → (RefreshFailed → LoggedOut)
//
// The session is the only writer of the bearer token.  The HTTP client
// reads it through AccessToken and may ask for a refresh, which fails
// closed: any refresh failure logs the session out before returning.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/storage"
)

// State is the session's position in the auth state machine.
type State int

const (
	LoggedOut State = iota
	Authenticating
	LoggedIn
	RefreshFailed
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged_in"
	case RefreshFailed:
		return "refresh_failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrAccountCreated marks a Register error where the account was created
// but the follow-up sign-in failed.  The returned error also matches the
// sign-in failure itself.
var ErrAccountCreated = errors.New("account created but sign-in failed")

type accountCreatedError struct{ err error }

func (e *accountCreatedError) Error() string {
	return ErrAccountCreated.Error() + ": " + e.err.Error()
}

func (e *accountCreatedError) Unwrap() []error { return []error{ErrAccountCreated, e.err} }

// API is the subset of the REST client the session talks to.
type API interface {
	ObtainToken(ctx context.Context, username, password string) (model.TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (string, error)
	Me(ctx context.Context, bearer string) (model.User, error)
	Register(ctx context.Context, req model.RegisterRequest) (model.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, req model.PasswordResetConfirm) error
}

// Session is safe for concurrent use.
type Session struct {
	api   API
	store storage.Store

	mu        sync.RWMutex
	state     State
	tokens    model.TokenPair
	user      *model.User
	listeners []func(State)

	refresh singleflight.Group
}

// New returns a logged-out session.  Call Restore to pick up a session
// persisted by a previous run.
func New(api API, store storage.Store) *Session {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	return &Session{api: api, store: store}
}

// Subscribe registers fn to be called after every state transition.
// Listeners run outside the session lock, in registration order.
func (s *Session) Subscribe(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) notify(st State) {
	s.mu.RLock()
	ls := append([]func(State){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(st)
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AccessToken returns the current bearer token, or "" when logged out.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access
}

// RefreshToken returns the current refresh token, or "" when logged out.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Refresh
}

// User returns a copy of the cached profile, or nil when logged out.
func (s *Session) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil || s.state != LoggedIn {
		return nil
	}
	u := *s.user
	return &u
}

// IsAuthenticated reports whether a user is logged in.
func (s *Session) IsAuthenticated() bool { return s.User() != nil }

// Restore loads a persisted session.  A partially persisted session (a
// token without a user, or the reverse) is discarded.
func (s *Session) Restore() error {
	st, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !st.Complete() {
		if st != (storage.State{}) {
			log.Printf("session: discarding incomplete persisted session")
			if err := s.store.Clear(); err != nil {
				log.Printf("session: clear storage failed: %v", err)
			}
		}
		return nil
	}
	u := *st.User
	s.mu.Lock()
	s.tokens = model.TokenPair{Access: st.Access, Refresh: st.Refresh}
	s.user = &u
	s.state = LoggedIn
	s.mu.Unlock()
	s.notify(LoggedIn)
	return nil
}

// Login exchanges credentials for a token pair, fetches the profile with
// the new access token and only then commits and persists both.  On
// failure nothing is stored and the previous state is kept.
func (s *Session) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		e := apperror.New(apperror.ErrValidation, "username and password are required")
		e.Fields = map[string][]string{}
		if username == "" {
			e.Fields["username"] = []string{"This field is required."}
		}
		if password == "" {
			e.Fields["password"] = []string{"This field is required."}
		}
		return e
	}

	s.mu.Lock()
	prev := s.state
	s.state = Authenticating
	s.mu.Unlock()
	s.notify(Authenticating)

	fail := func(err error) error {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		s.notify(prev)
		return err
	}

	tp, err := s.api.ObtainToken(ctx, username, password)
	if err != nil {
		log.Printf("session: login failed for %q: %v", username, err)
		if errors.Is(err, apperror.ErrAuthorizationExpired) {
			msg := apperror.Message(err)
			if msg == "" || msg == "Unauthorized" {
				msg = "invalid username or password"
			}
			return fail(apperror.Wrap(apperror.ErrUnauthenticated, err, msg))
		}
		return fail(err)
	}
	if tp.Access == "" || tp.Refresh == "" {
		return fail(apperror.New(apperror.ErrServerRejected, "login response missing tokens"))
	}

	u, err := s.api.Me(ctx, tp.Access)
	if err != nil {
		log.Printf("session: fetch profile failed for %q: %v", username, err)
		return fail(err)
	}

	if err := s.store.Save(storage.State{Access: tp.Access, Refresh: tp.Refresh, User: &u}); err != nil {
		log.Printf("session: persist failed: %v", err)
		return fail(fmt.Errorf("persist session: %w", err))
	}

	s.mu.Lock()
	s.tokens = tp
	s.user = &u
	s.state = LoggedIn
	s.mu.Unlock()
	s.notify(LoggedIn)
	return nil
}

// Register creates an account and signs in with the same credentials.
// When the account is created but sign-in fails, the error matches both
// ErrAccountCreated and the sign-in error.
func (s *Session) Register(ctx context.Context, req model.RegisterRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.PasswordConfirm == "" {
		req.PasswordConfirm = req.Password
	}
	fields := map[string][]string{}
	if req.Username == "" {
		fields["username"] = []string{"This field is required."}
	}
	if req.Email == "" {
		fields["email"] = []string{"This field is required."}
	}
	if req.Password == "" {
		fields["password"] = []string{"This field is required."}
	} else if req.Password != req.PasswordConfirm {
		fields["password"] = []string{"Passwords don't match!"}
	}
	if len(fields) > 0 {
		e := apperror.New(apperror.ErrValidation, "registration form is invalid")
		e.Fields = fields
		return e
	}

	if _, err := s.api.Register(ctx, req); err != nil {
		log.Printf("session: register failed for %q: %v", req.Username, err)
		return err
	}
	if err := s.Login(ctx, req.Username, req.Password); err != nil {
		return &accountCreatedError{err: err}
	}
	return nil
}

// Logout clears tokens, the cached user and persisted storage.  It never
// fails and is idempotent.
func (s *Session) Logout() {
	s.mu.Lock()
	was := s.state
	s.tokens = model.TokenPair{}
	s.user = nil
	s.state = LoggedOut
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		log.Printf("session: clear storage failed: %v", err)
	}
	if was != LoggedOut {
		s.notify(LoggedOut)
	}
}

// refreshTimeout bounds the shared refresh call, which outlives the
// caller that started it.
const refreshTimeout = 30 * time.Second

// RefreshAccessToken exchanges the refresh token for a new access token.
// Concurrent callers share one network call.  Any failure of that call
// logs the session out.  A caller whose ctx ends first returns ctx.Err()
// and the shared call carries on, so cancellation never logs out.
func (s *Session) RefreshAccessToken(ctx context.Context) error {
	ch := s.refresh.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		s.mu.RLock()
		refresh := s.tokens.Refresh
		s.mu.RUnlock()
		if refresh == "" {
			s.Logout()
			return nil, apperror.New(apperror.ErrUnauthenticated, "no refresh token")
		}

		access, err := s.api.RefreshToken(rctx, refresh)
		if err == nil && access == "" {
			err = apperror.New(apperror.ErrServerRejected, "refresh response missing access token")
		}
		if err != nil {
			log.Printf("session: token refresh failed: %v", err)
			s.mu.Lock()
			current := s.tokens.Refresh == refresh
			if current {
				s.state = RefreshFailed
			}
			s.mu.Unlock()
			if !current {
				// a newer login replaced the tokens while we were refreshing
				return nil, nil
			}
			s.notify(RefreshFailed)
			s.Logout()
			return nil, apperror.Wrap(apperror.ErrAuthorizationExpired, err, "session expired, please log in again")
		}

		s.mu.Lock()
		if s.tokens.Refresh != refresh {
			s.mu.Unlock()
			if s.AccessToken() == "" {
				return nil, apperror.New(apperror.ErrUnauthenticated, "logged out during refresh")
			}
			return nil, nil
		}
		s.tokens.Access = access
		st := storage.State{Access: access, Refresh: refresh}
		if s.user != nil {
			u := *s.user
			st.User = &u
		}
		s.mu.Unlock()

		if err := s.store.Save(st); err != nil {
			log.Printf("session: persist refreshed token failed: %v", err)
		}
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestPasswordReset asks the server to mail a reset link for email.
func (s *Session) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		e := apperror.New(apperror.ErrValidation, "email is required")
		e.Fields = map[string][]string{"email": {"This field is required."}}
		return e
	}
	return s.api.RequestPasswordReset(ctx, email)
}

// ConfirmPasswordReset sets a new password with a mailed token.  It does
// not sign the user in.
func (s *Session) ConfirmPasswordReset(ctx context.Context, token, password, confirm string) error {
	fields := map[string][]string{}
	if strings.TrimSpace(token) == "" {
		fields["token"] = []string{"This field is required."}
	}
	if len(password) < 8 {
		fields["password"] = []string{"Password must be at least 8 characters."}
	} else if password != confirm {
		fields["password_confirm"] = []string{"Passwords don't match!"}
	}
	if len(fields) > 0 {
		e := apperror.New(apperror.ErrValidation, "password reset form is invalid")
		e.Fields = fields
		return e
	}
	return s.api.ConfirmPasswordReset(ctx, model.PasswordResetConfirm{
		Token:           strings.TrimSpace(token),
		Password:        password,
		PasswordConfirm: confirm,
	})
}
