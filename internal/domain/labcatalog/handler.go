package labcatalog

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/labtracker/internal/platform/auth"
	"github.com/ehr/labtracker/pkg/apperror"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.LabStaff...))
	read.GET("/lab-tests", h.ListTests)
	read.GET("/lab-tests/:id", h.GetTest)

	write := api.Group("", auth.RequireRole(auth.RoleLabManager))
	write.POST("/lab-tests", h.AddTest)
	write.PATCH("/lab-tests/:id", h.UpdateTest)
	write.DELETE("/lab-tests/:id", h.DeleteTest)
}

func (h *Handler) AddTest(c echo.Context) error {
	var t LabTest
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.AddTest(c.Request().Context(), &t)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetTest(c echo.Context) error {
	t, err := h.svc.GetTest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTest(c echo.Context) error {
	var u LabTestUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.UpdateTest(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTest(c echo.Context) error {
	if err := h.svc.DeleteTest(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListTests serves the catalog page (?category=) and the order form
// (?active=true).
func (h *Handler) ListTests(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		items []*LabTest
		err   error
	)
	if category := c.QueryParam("category"); category != "" {
		items, err = h.svc.ListByCategory(ctx, Category(category))
	} else {
		activeOnly, _ := strconv.ParseBool(c.QueryParam("active"))
		items, err = h.svc.ListTests(ctx, activeOnly)
	}
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}
