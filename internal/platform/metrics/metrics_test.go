package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLabRequestCreated(t *testing.T) {
	m := New()
	m.LabRequestCreated("internal", "normal")
	m.LabRequestCreated("internal", "normal")
	m.LabRequestCreated("external", "stat")

	if got := testutil.ToFloat64(m.requestsCreated.WithLabelValues("internal", "normal")); got != 2 {
		t.Errorf("expected 2 internal/normal, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsCreated.WithLabelValues("external", "stat")); got != 1 {
		t.Errorf("expected 1 external/stat, got %v", got)
	}
}

func TestTestOrderTransition(t *testing.T) {
	m := New()
	m.TestOrderTransition("pending", "sample_collected")
	m.TestOrderTransition("sample_collected", "processing")
	m.TestOrderTransition("pending", "sample_collected")

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("pending", "sample_collected")); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("sample_collected", "processing")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestMiddleware_ObservesRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/lab-requests/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lab-requests/LR001", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if n := testutil.CollectAndCount(m.httpDuration); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.LabRequestCreated("external", "urgent")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := m.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "lab_requests_created_total") {
		t.Error("expected lab_requests_created_total in exposition output")
	}
}
