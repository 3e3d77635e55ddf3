package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/queue"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
	"github.com/iliyamo/pharmacy-storefront/internal/utils"
)

type authFixture struct {
	e      *echo.Echo
	users  *fakeUsers
	tokens *fakeTokens
	notes  *fakeNotifier
}

func newAuthFixture(t *testing.T, withResets bool) *authFixture {
	t.Helper()
	f := &authFixture{e: echo.New(), users: newFakeUsers(), tokens: newFakeTokens(), notes: &fakeNotifier{}}

	var resets ResetTokens
	if withResets {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		resets = repository.NewResetTokenStore(rdb, time.Hour)
	}
	h := NewAuthHandler(testConfig(), f.users, f.tokens, resets, f.notes)

	f.e.POST("/api/token/", h.Token)
	f.e.POST("/api/token/refresh/", h.Refresh)
	f.e.POST("/api/token/revoke/", h.Revoke)
	f.e.POST("/api/register/", h.Register)
	f.e.POST("/api/password-reset/", h.RequestPasswordReset)
	f.e.POST("/api/password-reset/confirm/", h.ConfirmPasswordReset)
	f.e.GET("/api/me/", h.Me, middleware.JWTAuth(testSecret))
	return f
}

func (f *authFixture) login(t *testing.T, username, password string) model.TokenPair {
	t.Helper()
	rec := call(t, f.e, http.MethodPost, "/api/token/", "", model.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.TokenPair](t, rec)
}

func TestToken_IssuesPairForValidCredentials(t *testing.T) {
	f := newAuthFixture(t, false)
	u := f.users.add(t, "amira", "pharma-pass-1", false)

	pair := f.login(t, "amira", "pharma-pass-1")
	require.NotEmpty(t, pair.Refresh)

	claims, err := utils.ParseAccessToken(testSecret, pair.Access)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	assert.Equal(t, "amira", claims.Username)

	_, err = f.tokens.ValidateRefresh(context.Background(), utils.HashRefreshRaw(pair.Refresh))
	assert.NoError(t, err, "refresh token is stored hashed")
}

func TestToken_RejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t, false)
	f.users.add(t, "amira", "pharma-pass-1", false)

	for _, req := range []model.LoginRequest{
		{Username: "amira", Password: "wrong-pass"},
		{Username: "nobody", Password: "pharma-pass-1"},
	} {
		rec := call(t, f.e, http.MethodPost, "/api/token/", "", req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, badCredentials, decode[map[string]any](t, rec)["error"])
	}
}

func TestToken_MissingFieldsAreFieldErrors(t *testing.T) {
	f := newAuthFixture(t, false)
	rec := call(t, f.e, http.MethodPost, "/api/token/", "", model.LoginRequest{Username: "amira"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[struct {
		Error  string              `json:"error"`
		Fields map[string][]string `json:"fields"`
	}](t, rec)
	assert.Equal(t, "Invalid input.", body.Error)
	assert.Equal(t, []string{"This field is required."}, body.Fields["password"])
	assert.NotContains(t, body.Fields, "username")
}

func TestRefresh_IssuesAccessUntilRevoked(t *testing.T) {
	f := newAuthFixture(t, false)
	f.users.add(t, "amira", "pharma-pass-1", false)
	pair := f.login(t, "amira", "pharma-pass-1")

	rec := call(t, f.e, http.MethodPost, "/api/token/refresh/", "", model.RefreshRequest{Refresh: pair.Refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	access := decode[model.RefreshResponse](t, rec).Access
	_, err := utils.ParseAccessToken(testSecret, access)
	require.NoError(t, err)

	rec = call(t, f.e, http.MethodPost, "/api/token/revoke/", "", model.RefreshRequest{Refresh: pair.Refresh})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, f.e, http.MethodPost, "/api/token/refresh/", "", model.RefreshRequest{Refresh: pair.Refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token is invalid or expired", decode[map[string]any](t, rec)["error"])
}

func TestRefresh_AccessTokenIsNotARefreshToken(t *testing.T) {
	f := newAuthFixture(t, false)
	f.users.add(t, "amira", "pharma-pass-1", false)
	pair := f.login(t, "amira", "pharma-pass-1")

	rec := call(t, f.e, http.MethodPost, "/api/token/refresh/", "", model.RefreshRequest{Refresh: pair.Access})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_CreatesAccountAndWelcomes(t *testing.T) {
	f := newAuthFixture(t, false)
	rec := call(t, f.e, http.MethodPost, "/api/register/", "", model.RegisterRequest{
		Username:        "amira",
		Email:           "amira@example.ae",
		Password:        "pharma-pass-1",
		PasswordConfirm: "pharma-pass-1",
		FirstName:       "Amira",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[model.RegisterResponse](t, rec)
	assert.Equal(t, "User registered successfully!", resp.Message)
	assert.Equal(t, "amira", resp.User.Username)
	assert.Equal(t, "Amira", resp.User.FirstName)
	assert.NotContains(t, rec.Body.String(), "password")

	require.Equal(t, []string{queue.KindWelcome}, f.notes.kinds())
	n := f.notes.last()
	assert.Equal(t, "amira@example.ae", n.Email)
	assert.NotEmpty(t, n.CreatedAt)

	// registration does not log in; the new credentials do
	f.login(t, "amira", "pharma-pass-1")
}

func TestRegister_Validation(t *testing.T) {
	f := newAuthFixture(t, false)
	f.users.add(t, "taken", "pharma-pass-1", false)

	cases := []struct {
		name  string
		req   model.RegisterRequest
		field string
		msg   string
	}{
		{
			name:  "mismatch",
			req:   model.RegisterRequest{Username: "amira", Email: "a@example.ae", Password: "pharma-pass-1", PasswordConfirm: "pharma-pass-2"},
			field: "non_field_errors",
			msg:   "Passwords don't match!",
		},
		{
			name:  "short password",
			req:   model.RegisterRequest{Username: "amira", Email: "a@example.ae", Password: "short", PasswordConfirm: "short"},
			field: "password",
			msg:   "This password is too short. It must contain at least 8 characters.",
		},
		{
			name:  "numeric password",
			req:   model.RegisterRequest{Username: "amira", Email: "a@example.ae", Password: "12345678", PasswordConfirm: "12345678"},
			field: "password",
			msg:   "This password is entirely numeric.",
		},
		{
			name:  "bad email",
			req:   model.RegisterRequest{Username: "amira", Email: "not-an-email", Password: "pharma-pass-1", PasswordConfirm: "pharma-pass-1"},
			field: "email",
			msg:   "Enter a valid email address.",
		},
		{
			name:  "duplicate username",
			req:   model.RegisterRequest{Username: "taken", Email: "t@example.ae", Password: "pharma-pass-1", PasswordConfirm: "pharma-pass-1"},
			field: "username",
			msg:   repository.ErrUsernameExists.Error(),
		},
		{
			name:  "missing email",
			req:   model.RegisterRequest{Username: "amira", Password: "pharma-pass-1", PasswordConfirm: "pharma-pass-1"},
			field: "email",
			msg:   "This field is required.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := call(t, f.e, http.MethodPost, "/api/register/", "", tc.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[struct {
				Fields map[string][]string `json:"fields"`
			}](t, rec)
			assert.Contains(t, body.Fields[tc.field], tc.msg)
		})
	}
	assert.Empty(t, f.notes.kinds())
}

func TestMe(t *testing.T) {
	f := newAuthFixture(t, false)
	f.users.add(t, "amira", "pharma-pass-1", true)
	pair := f.login(t, "amira", "pharma-pass-1")

	rec := call(t, f.e, http.MethodGet, "/api/me/", pair.Access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[model.User](t, rec)
	assert.Equal(t, "amira", me.Username)
	assert.True(t, me.IsStaff)

	rec = call(t, f.e, http.MethodGet, "/api/me/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordReset_FullFlow(t *testing.T) {
	f := newAuthFixture(t, true)
	f.users.add(t, "amira", "pharma-pass-1", false)
	old := f.login(t, "amira", "pharma-pass-1")

	rec := call(t, f.e, http.MethodPost, "/api/password-reset/", "", model.PasswordResetRequest{Email: "amira@example.ae"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resetRequested, decode[model.MessageResponse](t, rec).Message)

	require.Equal(t, []string{queue.KindPasswordReset}, f.notes.kinds())
	url := f.notes.last().ResetURL
	require.True(t, strings.HasPrefix(url, "http://shop.test/reset-password/"), url)
	token := strings.TrimPrefix(url, "http://shop.test/reset-password/")

	// weak password leaves the token usable
	rec = call(t, f.e, http.MethodPost, "/api/password-reset/confirm/", "", model.PasswordResetConfirm{Token: token, Password: "1234", PasswordConfirm: "1234"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, f.e, http.MethodPost, "/api/password-reset/confirm/", "", model.PasswordResetConfirm{Token: token, Password: "fresh-pass-2", PasswordConfirm: "fresh-pass-2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.login(t, "amira", "fresh-pass-2")
	rec = call(t, f.e, http.MethodPost, "/api/token/", "", model.LoginRequest{Username: "amira", Password: "pharma-pass-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// existing sessions are revoked
	rec = call(t, f.e, http.MethodPost, "/api/token/refresh/", "", model.RefreshRequest{Refresh: old.Refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// tokens are single use
	rec = call(t, f.e, http.MethodPost, "/api/password-reset/confirm/", "", model.PasswordResetConfirm{Token: token, Password: "other-pass-3", PasswordConfirm: "other-pass-3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, repository.ErrResetTokenInvalid.Error(), decode[map[string]any](t, rec)["error"])
}

func TestPasswordReset_UnknownEmailLooksTheSame(t *testing.T) {
	f := newAuthFixture(t, true)
	rec := call(t, f.e, http.MethodPost, "/api/password-reset/", "", model.PasswordResetRequest{Email: "ghost@example.ae"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resetRequested, decode[model.MessageResponse](t, rec).Message)
	assert.Empty(t, f.notes.kinds())
}

func TestPasswordReset_UnavailableWithoutStore(t *testing.T) {
	f := newAuthFixture(t, false)
	rec := call(t, f.e, http.MethodPost, "/api/password-reset/", "", model.PasswordResetRequest{Email: "a@example.ae"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotifyFailureDoesNotFailRequest(t *testing.T) {
	f := newAuthFixture(t, false)
	f.notes.err = assert.AnError
	rec := call(t, f.e, http.MethodPost, "/api/register/", "", model.RegisterRequest{
		Username: "amira", Email: "amira@example.ae", Password: "pharma-pass-1", PasswordConfirm: "pharma-pass-1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}
