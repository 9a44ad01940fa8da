package walkin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/labtracker/internal/platform/auth"
	"github.com/ehr/labtracker/pkg/apperror"
	"github.com/ehr/labtracker/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.LabStaff...))
	read.GET("/external-patients", h.ListPatients)
	read.GET("/external-patients/:id", h.GetPatient)

	write := api.Group("", auth.RequireRole(auth.RoleLabTech, auth.RoleReceptionist))
	write.POST("/external-patients", h.Register)
}

func (h *Handler) Register(c echo.Context) error {
	var p ExternalPatient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Register(c.Request().Context(), &p)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, pg), len(items), pg.Limit, pg.Offset))
}
