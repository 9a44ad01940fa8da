package labrequest

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
	read.GET("/lab-requests", h.SearchRequests)
	read.GET("/lab-requests/summary", h.Summarize)
	read.GET("/lab-requests/:id", h.GetRequest)

	order := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleLabTech, auth.RoleReceptionist))
	order.POST("/lab-requests", h.CreateRequest)

	desk := api.Group("", auth.RequireRole(auth.RoleLabTech, auth.RoleReceptionist))
	desk.PATCH("/lab-requests/:id", h.UpdateRequest)

	cancel := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleLabTech))
	cancel.POST("/lab-requests/:id/cancel", h.CancelRequest)

	bench := api.Group("", auth.RequireRole(auth.RoleLabTech))
	bench.POST("/lab-requests/:id/tests/:testId/collect", h.CollectSample)
	bench.POST("/lab-requests/:id/tests/:testId/start-processing", h.StartProcessing)
	bench.POST("/lab-requests/:id/tests/:testId/results", h.AddTestResults)
}

// CreateRequest falls back to the caller's branch when the body names none.
func (h *Handler) CreateRequest(c echo.Context) error {
	var in CreateRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if passThrough(in.Branch) {
		in.Branch = auth.BranchFromContext(ctx)
	}
	r, err := h.svc.CreateRequest(ctx, in)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, NewView(r))
}

func (h *Handler) GetRequest(c echo.Context) error {
	r, err := h.svc.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, NewView(r))
}

func (h *Handler) UpdateRequest(c echo.Context) error {
	var u RequestUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.UpdateRequest(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, NewView(r))
}

func (h *Handler) CancelRequest(c echo.Context) error {
	r, err := h.svc.CancelRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, NewView(r))
}

// CollectSample records the collector from the body, or the caller's name.
func (h *Handler) CollectSample(c echo.Context) error {
	var body struct {
		CollectedBy string `json:"collected_by"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if body.CollectedBy == "" {
		body.CollectedBy = auth.UserNameFromContext(ctx)
	}
	r, err := h.svc.CollectSample(ctx, c.Param("id"), c.Param("testId"), body.CollectedBy)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, NewView(r))
}

func (h *Handler) StartProcessing(c echo.Context) error {
	r, err := h.svc.StartProcessing(c.Request().Context(), c.Param("id"), c.Param("testId"))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, NewView(r))
}

func (h *Handler) AddTestResults(c echo.Context) error {
	var body struct {
		Results []TestResult `json:"results"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.AddTestResults(c.Request().Context(), c.Param("id"), c.Param("testId"), body.Results)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, NewView(r))
}

func (h *Handler) filterFromQuery(c echo.Context) (Filter, error) {
	w, err := ParseTimeWindow(c.QueryParam("window"), c.QueryParam("days"),
		c.QueryParam("from"), c.QueryParam("to"), h.svc.Location())
	if err != nil {
		return Filter{}, err
	}
	return Filter{
		PatientID:   c.QueryParam("patient_id"),
		Status:      OrderStatus(c.QueryParam("status")),
		Branch:      c.QueryParam("branch"),
		PatientType: c.QueryParam("patient_type"),
		Query:       c.QueryParam("q"),
		Window:      w,
	}, nil
}

func (h *Handler) SearchRequests(c echo.Context) error {
	f, err := h.filterFromQuery(c)
	if err != nil {
		return apperror.HTTP(err)
	}
	items, err := h.svc.Search(c.Request().Context(), f)
	if err != nil {
		return apperror.HTTP(err)
	}
	pg := pagination.FromContext(c)
	page := NewViews(pagination.Slice(items, pg))
	return c.JSON(http.StatusOK, pagination.NewResponse(page, len(items), pg.Limit, pg.Offset))
}

func (h *Handler) Summarize(c echo.Context) error {
	f, err := h.filterFromQuery(c)
	if err != nil {
		return apperror.HTTP(err)
	}
	summary, err := h.svc.Summarize(c.Request().Context(), f)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, summary)
}
