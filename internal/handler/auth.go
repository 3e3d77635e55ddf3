package handler

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/config"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/queue"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
	"github.com/iliyamo/pharmacy-storefront/internal/utils"
)

// UserStore is the account persistence used by AuthHandler.
type UserStore interface {
	Create(ctx context.Context, nu repository.NewUser, cost int) (repository.User, error)
	GetByUsername(ctx context.Context, username string) (repository.User, error)
	GetByID(ctx context.Context, id uint64) (repository.User, error)
	GetByEmail(ctx context.Context, email string) (repository.User, error)
	SetPassword(ctx context.Context, id uint64, password string, cost int) error
}

// RefreshStore persists hashed refresh tokens.
type RefreshStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// ResetTokens issues and redeems single-use password-reset tokens.
type ResetTokens interface {
	Issue(ctx context.Context, userID uint64) (string, error)
	Peek(ctx context.Context, raw string) (uint64, error)
	Consume(ctx context.Context, raw string) (uint64, error)
}

// AuthHandler serves login, refresh, registration, profile and password
// reset.
type AuthHandler struct {
	Cfg    config.Config // token TTLs, signing secret, bcrypt cost, reset link base
	Users  UserStore     // accounts and password hashes
	Tokens RefreshStore  // hashed refresh tokens
	Resets ResetTokens   // nil disables password reset
	Notify Notifier      // welcome and reset mail
}

// NewAuthHandler wires the auth routes.  r may be nil when Redis is
// unavailable; the reset endpoints then answer 503.
func NewAuthHandler(cfg config.Config, u UserStore, t RefreshStore, r ResetTokens, n Notifier) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Resets: r, Notify: n}
}

var usernamePattern = regexp.MustCompile(`^[\w.@+-]{1,150}$`)

const badCredentials = "No active account found with the given credentials"

// Token handles POST /api/token/.  It exchanges username and password for
// an access/refresh pair.  Wrong credentials and inactive accounts get
// the same 401 so the endpoint does not reveal which usernames exist.
func (h *AuthHandler) Token(c echo.Context) error {
	var req model.LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	fe := fieldErrors{}
	fe.required("username", strings.TrimSpace(req.Username))
	fe.required("password", req.Password)
	if len(fe) > 0 {
		return fe.reply(c)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, req.Username)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": badCredentials})
	}
	if err != nil {
		return internalError(c, "user lookup", err)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": badCredentials})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Username, u.IsStaff, h.Cfg.AccessTTLMin)
	if err != nil {
		return internalError(c, "issue access", err)
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return internalError(c, "issue refresh", err)
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return internalError(c, "save refresh", err)
	}
	return c.JSON(http.StatusOK, model.TokenPair{Access: access.Token, Refresh: refresh.Raw})
}

// Refresh handles POST /api/token/refresh/.  It issues a new access token
// for a live refresh token; the refresh token itself is not rotated.  An
// access token sent in its place is rejected with 401.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req model.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	fe := fieldErrors{}
	fe.required("refresh", req.Refresh)
	if len(fe) > 0 {
		return fe.reply(c)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	uid, err := h.Tokens.ValidateRefresh(ctx, utils.HashRefreshRaw(req.Refresh))
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Token is invalid or expired"})
	}
	if err != nil {
		return internalError(c, "validate refresh", err)
	}
	u, err := h.Users.GetByID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Token is invalid or expired"})
	}
	if err != nil {
		return internalError(c, "user lookup", err)
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Username, u.IsStaff, h.Cfg.AccessTTLMin)
	if err != nil {
		return internalError(c, "issue access", err)
	}
	return c.JSON(http.StatusOK, model.RefreshResponse{Access: access.Token})
}

// Revoke handles POST /api/token/revoke/.  It invalidates a refresh token
// and answers 204; unknown tokens are not an error.
func (h *AuthHandler) Revoke(c echo.Context) error {
	var req model.RefreshRequest
	if err := c.Bind(&req); err != nil || req.Refresh == "" {
		return badRequest(c, "refresh is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Tokens.RevokeByHash(ctx, utils.HashRefreshRaw(req.Refresh)); err != nil {
		return internalError(c, "revoke refresh", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Register handles POST /api/register/.  It creates an account and its
// cart and answers 201 with the profile; it does not log the user in.
// Validation failures are 400 with per-field messages.
func (h *AuthHandler) Register(c echo.Context) error {
	var req model.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	fe := fieldErrors{}
	fe.required("username", req.Username)
	fe.required("email", req.Email)
	fe.required("password", req.Password)
	fe.required("password_confirm", req.PasswordConfirm)
	if req.Username != "" && !usernamePattern.MatchString(req.Username) {
		fe.add("username", "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			fe.add("email", "Enter a valid email address.")
		}
	}
	if req.Password != "" {
		if err := utils.CheckPasswordStrength(req.Password, req.Username); err != nil {
			fe.add("password", err.Error())
		}
	}
	if len(fe) == 0 && req.Password != req.PasswordConfirm {
		fe.add("non_field_errors", "Passwords don't match!")
	}
	if len(fe) > 0 {
		return fe.reply(c)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.Create(ctx, repository.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, h.Cfg.BcryptCost)
	if errors.Is(err, repository.ErrUsernameExists) {
		fe.add("username", repository.ErrUsernameExists.Error())
		return fe.reply(c)
	}
	if err != nil {
		return internalError(c, "create user", err)
	}

	notify(ctx, h.Notify, queue.Notification{Kind: queue.KindWelcome, UserID: u.ID, Username: u.Username, Email: u.Email})
	return c.JSON(http.StatusCreated, model.RegisterResponse{Message: "User registered successfully!", User: u.Profile()})
}

// Me handles GET /api/me/ and returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Users.GetByID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "User not found"})
	}
	if err != nil {
		return internalError(c, "user lookup", err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

const resetRequested = "If an account exists with this email, you will receive a password reset link."

// RequestPasswordReset handles POST /api/password-reset/.  It mails a
// reset link; the answer is the same whether or not the address belongs
// to an account.
func (h *AuthHandler) RequestPasswordReset(c echo.Context) error {
	if h.Resets == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "Password reset is temporarily unavailable"})
	}
	var req model.PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	fe := fieldErrors{}
	fe.required("email", strings.TrimSpace(req.Email))
	if len(fe) > 0 {
		return fe.reply(c)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusOK, model.MessageResponse{Message: resetRequested})
	}
	if err != nil {
		return internalError(c, "user lookup", err)
	}
	token, err := h.Resets.Issue(ctx, u.ID)
	if err != nil {
		return internalError(c, "issue reset token", err)
	}
	notify(ctx, h.Notify, queue.Notification{
		Kind:     queue.KindPasswordReset,
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		ResetURL: strings.TrimRight(h.Cfg.FrontendURL, "/") + "/reset-password/" + token,
	})
	return c.JSON(http.StatusOK, model.MessageResponse{Message: resetRequested})
}

// ConfirmPasswordReset handles POST /api/password-reset/confirm/.  It sets
// a new password with a mailed token.  The token is spent only once the
// new password passes validation, and every refresh token of the account
// is revoked.
func (h *AuthHandler) ConfirmPasswordReset(c echo.Context) error {
	if h.Resets == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "Password reset is temporarily unavailable"})
	}
	var req model.PasswordResetConfirm
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	fe := fieldErrors{}
	fe.required("token", req.Token)
	fe.required("password", req.Password)
	fe.required("password_confirm", req.PasswordConfirm)
	if len(fe) > 0 {
		return fe.reply(c)
	}
	if req.Password != req.PasswordConfirm {
		fe.add("non_field_errors", "Passwords don't match!")
		return fe.reply(c)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	uid, err := h.Resets.Peek(ctx, req.Token)
	if errors.Is(err, repository.ErrResetTokenInvalid) {
		return badRequest(c, repository.ErrResetTokenInvalid.Error())
	}
	if err != nil {
		return internalError(c, "reset token lookup", err)
	}
	u, err := h.Users.GetByID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return badRequest(c, repository.ErrResetTokenInvalid.Error())
	}
	if err != nil {
		return internalError(c, "user lookup", err)
	}
	if err := utils.CheckPasswordStrength(req.Password, u.Username); err != nil {
		fe.add("password", err.Error())
		return fe.reply(c)
	}

	// a concurrent confirm may have spent the token since Peek
	if _, err := h.Resets.Consume(ctx, req.Token); err != nil {
		if errors.Is(err, repository.ErrResetTokenInvalid) {
			return badRequest(c, repository.ErrResetTokenInvalid.Error())
		}
		return internalError(c, "consume reset token", err)
	}
	if err := h.Users.SetPassword(ctx, u.ID, req.Password, h.Cfg.BcryptCost); err != nil {
		return internalError(c, "set password", err)
	}
	if err := h.Tokens.RevokeAllForUser(ctx, u.ID); err != nil {
		return internalError(c, "revoke sessions", err)
	}
	return c.JSON(http.StatusOK, model.MessageResponse{Message: "Password has been reset successfully."})
}
