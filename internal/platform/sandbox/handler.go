package sandbox

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/platform/auth"
)

// SeedHandler exposes demo seeding over HTTP. The first call loads the
// reference data; every call adds the requested number of synthetic
// requests.
type SeedHandler struct {
	svc    Services
	logger zerolog.Logger

	mu     sync.Mutex
	seeded bool
}

func NewSeedHandler(svc Services, logger zerolog.Logger) *SeedHandler {
	return &SeedHandler{svc: svc, logger: logger}
}

// MarkSeeded records that reference data is already present, e.g. because
// it was loaded at startup.
func (h *SeedHandler) MarkSeeded() {
	h.mu.Lock()
	h.seeded = true
	h.mu.Unlock()
}

func (h *SeedHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sandbox", auth.RequireRole(auth.RoleAdmin))
	g.POST("/seed", h.Seed)
}

func (h *SeedHandler) Seed(c echo.Context) error {
	cfg := DefaultSeedConfig()
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if cfg.SyntheticRequests < 0 || cfg.SyntheticRequests > 500 {
		return echo.NewHTTPError(http.StatusBadRequest, "synthetic_requests must be between 0 and 500")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := c.Request().Context()
	seeder := NewSeeder(h.svc, cfg)
	result := &SeedResult{}
	if !h.seeded {
		ref, err := seeder.SeedReference(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "seed reference data").SetInternal(err)
		}
		result = ref
		h.seeded = true
	}
	n, err := seeder.SeedSynthetic(ctx, cfg.SyntheticRequests)
	result.LabRequests += n
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "seed synthetic requests").SetInternal(err)
	}

	h.logger.Info().
		Int("lab_tests", result.LabTests).
		Int("external_patients", result.ExternalPatients).
		Int("lab_requests", result.LabRequests).
		Msg("sandbox seeded")
	return c.JSON(http.StatusCreated, result)
}
