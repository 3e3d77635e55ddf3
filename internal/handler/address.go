package handler

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
)

// Addresses is the address book persistence, scoped by owner.
type Addresses interface {
	List(ctx context.Context, userID uint64) ([]model.Address, error)
	Get(ctx context.Context, userID, id uint64) (model.Address, error)
	Create(ctx context.Context, userID uint64, a model.Address) (model.Address, error)
	Update(ctx context.Context, userID uint64, a model.Address) (model.Address, error)
	Delete(ctx context.Context, userID, id uint64) error
}

// AddressHandler serves the caller's delivery addresses.  Every query is
// scoped by owner, so another user's address is reported as 404 rather
// than 403.
type AddressHandler struct {
	Addresses Addresses
}

// NewAddressHandler wires the handler to its address store.
func NewAddressHandler(a Addresses) *AddressHandler { return &AddressHandler{Addresses: a} }

// Emirates lists the accepted emirate values.
var Emirates = []string{"Abu Dhabi", "Dubai", "Sharjah", "Ajman", "Umm Al Quwain", "Ras Al Khaimah", "Fujairah"}

// ValidUAEPhone accepts numbers starting with +971, 971 or 0 once spaces
// and dashes are removed.
func ValidUAEPhone(s string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(s)
	return strings.HasPrefix(cleaned, "+971") || strings.HasPrefix(cleaned, "971") || strings.HasPrefix(cleaned, "0")
}

// validateAddress trims the free-text fields and checks required fields,
// the phone prefix and the emirate choice.
func validateAddress(a *model.Address) fieldErrors {
	a.FullName = strings.TrimSpace(a.FullName)
	a.PhoneNumber = strings.TrimSpace(a.PhoneNumber)
	a.StreetAddress = strings.TrimSpace(a.StreetAddress)
	a.Area = strings.TrimSpace(a.Area)
	if a.City = strings.TrimSpace(a.City); a.City == "" {
		a.City = "Dubai"
	}
	if a.Emirate = strings.TrimSpace(a.Emirate); a.Emirate == "" {
		a.Emirate = "Dubai"
	}

	fe := fieldErrors{}
	fe.required("full_name", a.FullName)
	fe.required("phone_number", a.PhoneNumber)
	fe.required("street_address", a.StreetAddress)
	fe.required("area", a.Area)
	if a.PhoneNumber != "" && !ValidUAEPhone(a.PhoneNumber) {
		fe.add("phone_number", "Please enter a valid UAE phone number")
	}
	if !slices.Contains(Emirates, a.Emirate) {
		fe.add("emirate", `"`+a.Emirate+`" is not a valid choice.`)
	}
	return fe
}

// List handles GET /api/addresses/, default address first.
func (h *AddressHandler) List(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Addresses.List(ctx, uid)
	if err != nil {
		return internalError(c, "list addresses", err)
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /api/addresses/:id/.
func (h *AddressHandler) Get(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	a, err := h.Addresses.Get(ctx, uid, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "get address", err)
	}
	return c.JSON(http.StatusOK, a)
}

// Create handles POST /api/addresses/.  Marking the new address as
// default clears the flag on the caller's other addresses.  Invalid input
// is 400 with per-field messages.
func (h *AddressHandler) Create(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var a model.Address
	if err := c.Bind(&a); err != nil {
		return badRequest(c, "invalid body")
	}
	if fe := validateAddress(&a); len(fe) > 0 {
		return fe.reply(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Addresses.Create(ctx, uid, a)
	if err != nil {
		return internalError(c, "create address", err)
	}
	return c.JSON(http.StatusCreated, out)
}

// Update handles PUT and PATCH /api/addresses/:id/.  PATCH starts from
// the stored address, so omitted fields keep their values; PUT replaces
// every field.
func (h *AddressHandler) Update(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	var a model.Address
	if c.Request().Method == http.MethodPatch {
		if a, err = h.Addresses.Get(ctx, uid, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFoundReply(c, "Not found.")
			}
			return internalError(c, "get address", err)
		}
	}
	if err := c.Bind(&a); err != nil {
		return badRequest(c, "invalid body")
	}
	a.ID = id
	if fe := validateAddress(&a); len(fe) > 0 {
		return fe.reply(c)
	}
	out, err := h.Addresses.Update(ctx, uid, a)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "update address", err)
	}
	return c.JSON(http.StatusOK, out)
}

// Delete handles DELETE /api/addresses/:id/.  Orders placed to it stay
// in the history with no delivery address.
func (h *AddressHandler) Delete(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	err = h.Addresses.Delete(ctx, uid, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "delete address", err)
	}
	return c.NoContent(http.StatusNoContent)
}
