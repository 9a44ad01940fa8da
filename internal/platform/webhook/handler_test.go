package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/platform/auth"
)

func newTestServer(t *testing.T, roles ...string) (*echo.Echo, *Manager) {
	t.Helper()
	m := NewManager(NewMemoryStore(), zerolog.Nop(), WithRetryDelays())
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), &auth.Claims{Roles: roles})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(m).RegisterRoutes(e.Group("/api/v1"))
	return e, m
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Lifecycle(t *testing.T) {
	_, rcvSrv := newReceiver(t, 0)
	e, _ := newTestServer(t, auth.RoleAdmin)

	rec := do(e, http.MethodPost, "/api/v1/webhooks", `{"url":"`+rcvSrv.URL+`","events":["test_order.*"],"branch":"Fedha"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var ep Endpoint
	json.Unmarshal(rec.Body.Bytes(), &ep)
	if ep.Secret == "" || ep.Branch != "Fedha" {
		t.Fatalf("expected secret and branch in register response, got %+v", ep)
	}

	rec = do(e, http.MethodGet, "/api/v1/webhooks/"+ep.ID, "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), ep.Secret) {
		t.Errorf("get: expected redacted endpoint, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/webhooks", "")
	var list struct {
		Data  []Endpoint `json:"data"`
		Total int        `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if rec.Code != http.StatusOK || list.Total != 1 || list.Data[0].Secret != "" {
		t.Errorf("list: unexpected %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/webhooks/"+ep.ID+"/pause", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"paused"`) {
		t.Errorf("pause: unexpected %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/webhooks/"+ep.ID+"/resume", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"active"`) {
		t.Errorf("resume: unexpected %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/webhooks/"+ep.ID+"/test", "")
	var attempt DeliveryAttempt
	json.Unmarshal(rec.Body.Bytes(), &attempt)
	if rec.Code != http.StatusOK || attempt.Status != DeliverySuccess {
		t.Fatalf("test: unexpected %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/webhooks/deliveries/"+attempt.ID+"/retry", "")
	if rec.Code != http.StatusOK {
		t.Errorf("retry: expected 200, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/webhooks/"+ep.ID+"/deliveries?limit=1", "")
	var logs struct {
		Data  []DeliveryAttempt `json:"data"`
		Total int               `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &logs)
	if logs.Total != 2 || len(logs.Data) != 1 {
		t.Errorf("deliveries: expected 1 of 2, got %d of %d", len(logs.Data), logs.Total)
	}

	if rec = do(e, http.MethodDelete, "/api/v1/webhooks/"+ep.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec = do(e, http.MethodGet, "/api/v1/webhooks/"+ep.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Errors(t *testing.T) {
	e, _ := newTestServer(t, auth.RoleAdmin)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"bad url", http.MethodPost, "/api/v1/webhooks", `{"url":"ftp://x","events":["*"]}`, http.StatusBadRequest},
		{"no events", http.MethodPost, "/api/v1/webhooks", `{"url":"https://lims.example.com"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/webhooks", `{`, http.StatusBadRequest},
		{"unknown endpoint", http.MethodGet, "/api/v1/webhooks/nope", "", http.StatusNotFound},
		{"unknown delivery", http.MethodPost, "/api/v1/webhooks/deliveries/nope/retry", "", http.StatusNotFound},
		{"test unknown", http.MethodPost, "/api/v1/webhooks/nope/test", "", http.StatusNotFound},
		{"deliveries unknown", http.MethodGet, "/api/v1/webhooks/nope/deliveries", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(e, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_RequiresAdmin(t *testing.T) {
	e, _ := newTestServer(t, auth.RoleLabManager)
	if rec := do(e, http.MethodGet, "/api/v1/webhooks", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
