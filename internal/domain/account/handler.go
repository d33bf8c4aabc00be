package account

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/router"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Path: "/register", Handler: h.Register, Access: router.Public, Name: "account.register"},
		{Method: http.MethodPost, Path: "/token", Handler: h.Login, Access: router.Public, Name: "account.token"},
		{Method: http.MethodPost, Path: "/token/refresh", Handler: h.Refresh, Access: router.Public, Name: "account.token_refresh"},
		{Method: http.MethodPost, Path: "/logout", Handler: h.Logout, Access: router.Authenticated, Name: "account.logout"},
		{Method: http.MethodGet, Path: "/me", Handler: h.Me, Access: router.Authenticated, Name: "account.me"},
		{Method: http.MethodPut, Path: "/me", Handler: h.UpdateMe, Access: router.Authenticated, Name: "account.update_me"},
		{Method: http.MethodPatch, Path: "/me", Handler: h.UpdateMe, Access: router.Authenticated, Name: "account.patch_me"},
	}
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := bind(c, &in); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, NewUserResponse(u))
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	pair, err := h.svc.Login(ctx, db.TenantFromContext(ctx), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) Refresh(c echo.Context) error {
	var in RefreshInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.Refresh(ctx, db.TenantFromContext(ctx), in.Refresh)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Logout(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	var in LogoutInput
	if err := bind(c, &in); err != nil {
		return err
	}
	if err := h.svc.Logout(c.Request().Context(), uid, in.Refresh); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewUserResponse(u))
}

func (h *Handler) UpdateMe(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	u, err := h.svc.UpdateMe(c.Request().Context(), uid, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewUserResponse(u))
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, apperr.Unauthenticated("authentication credentials were not provided")
	}
	return id, nil
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "malformed request body")
	}
	return nil
}
