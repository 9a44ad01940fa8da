package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/labtracker/internal/platform/auth"
	"github.com/ehr/labtracker/pkg/apperror"
	"github.com/ehr/labtracker/pkg/pagination"
)

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole(auth.RoleAdmin))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/deliveries/:id/retry", h.Retry)
}

// Register is the only response that includes the endpoint secret.
func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	ep, err := h.manager.Register(ctx, in, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	eps, err := h.manager.List(c.Request().Context())
	if err != nil {
		return apperror.HTTP(err)
	}
	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = ep.Redacted()
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(out, p), len(out), p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, ep.Redacted())
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Pause(c echo.Context) error {
	return h.setStatus(c, StatusPaused)
}

func (h *Handler) Resume(c echo.Context) error {
	return h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c echo.Context, status string) error {
	ep, err := h.manager.SetStatus(c.Request().Context(), c.Param("id"), status)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, ep.Redacted())
}

func (h *Handler) Test(c echo.Context) error {
	attempt, err := h.manager.Test(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, attempt)
}

func (h *Handler) Deliveries(c echo.Context) error {
	logs, err := h.manager.Deliveries(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(logs, p), len(logs), p.Limit, p.Offset))
}

func (h *Handler) Retry(c echo.Context) error {
	attempt, err := h.manager.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, attempt)
}
