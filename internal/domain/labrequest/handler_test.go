package labrequest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/labtracker/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func asStaff(req *http.Request, name, branch string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Claims{Name: name, Branch: branch, Roles: roles}))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestHandler_CreateRequest(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"patient_id":"P001","patient_type":"internal","doctor_name":"Dr. Sarah Williams","test_ids":["LT001","LT002"],"priority":"urgent"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(asStaff(jsonRequest(http.MethodPost, body), "Dr. Sarah Williams", "Utawala", auth.RolePhysician), rec)

	if err := h.CreateRequest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got View
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "LR001" || got.TotalAmount != 1700 || got.Branch != "Utawala" {
		t.Errorf("unexpected request id=%s total=%v branch=%s", got.ID, got.TotalAmount, got.Branch)
	}
	if got.Progress != ProgressPending || got.PaymentBadge != "Pending" {
		t.Errorf("unexpected derived fields progress=%s payment=%s", got.Progress, got.PaymentBadge)
	}
}

func TestHandler_CreateRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty selection", `{"patient_id":"P001","patient_type":"internal","test_ids":[]}`, http.StatusUnprocessableEntity},
		{"inactive test", `{"patient_id":"P001","patient_type":"internal","test_ids":["LT004"]}`, http.StatusUnprocessableEntity},
		{"unknown walk-in", `{"patient_id":"EP404","patient_type":"external","test_ids":["LT001"]}`, http.StatusNotFound},
		{"missing patient", `{"patient_type":"internal","test_ids":["LT001"]}`, http.StatusBadRequest},
		{"malformed", `{"patient_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, e := newTestHandler(t)
			c := e.NewContext(jsonRequest(http.MethodPost, tt.body), httptest.NewRecorder())
			if code := statusOf(t, h.CreateRequest(c)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestHandler_CollectSample_DefaultsToCaller(t *testing.T) {
	h, f, e := newTestHandler(t)
	r := f.create(t, "LT001")

	rec := httptest.NewRecorder()
	req := asStaff(httptest.NewRequest(http.MethodPost, "/", nil), "Lab Tech David", "Fedha", auth.RoleLabTech)
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "testId")
	c.SetParamValues(r.ID, r.Tests[0].ID)

	if err := h.CollectSample(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got View
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Tests[0].Status != StatusSampleCollected || got.Tests[0].SampleCollectedBy != "Lab Tech David" {
		t.Errorf("unexpected order %+v", got.Tests[0])
	}
	if got.Progress != ProgressInProgress {
		t.Errorf("expected in_progress, got %s", got.Progress)
	}
}

func TestHandler_AddTestResults_InvalidTransition(t *testing.T) {
	h, f, e := newTestHandler(t)
	r := f.create(t, "LT001")

	c := e.NewContext(jsonRequest(http.MethodPost, `{"results":[{"parameter":"WBC","value":"7.2"}]}`), httptest.NewRecorder())
	c.SetParamNames("id", "testId")
	c.SetParamValues(r.ID, r.Tests[0].ID)

	if code := statusOf(t, h.AddTestResults(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_StartProcessing_UnknownOrder(t *testing.T) {
	h, f, e := newTestHandler(t)
	r := f.create(t, "LT001")

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id", "testId")
	c.SetParamValues(r.ID, "T999")

	if code := statusOf(t, h.StartProcessing(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_UpdateAndCancel(t *testing.T) {
	h, f, e := newTestHandler(t)
	r := f.create(t, "LT001", "LT002")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPatch, `{"payment_status":"complete"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if err := h.UpdateRequest(c); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}
	var updated View
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.PaymentBadge != "Paid" {
		t.Errorf("expected Paid badge, got %s", updated.PaymentBadge)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if err := h.CancelRequest(c); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	var cancelled View
	json.Unmarshal(rec.Body.Bytes(), &cancelled)
	if cancelled.Progress != ProgressCancelled {
		t.Errorf("expected cancelled progress, got %s", cancelled.Progress)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if code := statusOf(t, h.CancelRequest(c)); code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", code)
	}
}

func TestHandler_SearchRequests(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.create(t, "LT001")
	f.create(t, "LT002")
	f.create(t, "LT003")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?window=today&branch=all&limit=2", nil), rec)
	if err := h.SearchRequests(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data    []View `json:"data"`
		Total   int    `json:"total"`
		HasMore bool   `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}
}

func TestHandler_SearchRequests_BadWindow(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?window=fortnight", nil), httptest.NewRecorder())
	if code := statusOf(t, h.SearchRequests(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Summarize(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.create(t, "LT001", "LT002")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=pending", nil), rec)
	if err := h.Summarize(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s Summary
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.Requests != 1 || s.Tests != 2 || s.Revenue.Outstanding != 1700 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestRoutes_RoleGates(t *testing.T) {
	h, f, e := newTestHandler(t)
	r := f.create(t, "LT001")

	var roles []string
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(asStaff(req, "Test User", "Fedha", roles...))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		name   string
		roles  []string
		method string
		path   string
		want   int
	}{
		{"nurse reads", []string{auth.RoleNurse}, http.MethodGet, "/api/v1/lab-requests/" + r.ID, http.StatusOK},
		{"nurse cannot collect", []string{auth.RoleNurse}, http.MethodPost, "/api/v1/lab-requests/" + r.ID + "/tests/" + r.Tests[0].ID + "/collect", http.StatusForbidden},
		{"receptionist cannot cancel", []string{auth.RoleReceptionist}, http.MethodPost, "/api/v1/lab-requests/" + r.ID + "/cancel", http.StatusForbidden},
		{"lab tech collects", []string{auth.RoleLabTech}, http.MethodPost, "/api/v1/lab-requests/" + r.ID + "/tests/" + r.Tests[0].ID + "/collect", http.StatusOK},
		{"anonymous rejected", nil, http.MethodGet, "/api/v1/lab-requests", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roles = tt.roles
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
