package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/platform/auth"
)

// Audit logs every state-changing call under /api/v1/: who did it, from
// which branch, on which resource and with what outcome. Reads are not
// audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()

			logger.Info().
				Str("type", "lab_audit").
				Str("request_id", requestIDOf(c)).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Str("user_name", auth.UserNameFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("branch", auth.BranchFromContext(ctx)).
				Str("action", actionOf(req.Method, req.URL.Path)).
				Str("resource", resourceOf(req.URL.Path)).
				Str("resource_id", c.Param("id")).
				Str("order_id", c.Param("testId")).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("lab_mutation")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// actionOf names the operation: the trailing verb segment for lifecycle
// calls (collect, cancel, results), otherwise the method's CRUD verb.
func actionOf(method, path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if n := len(segments); n >= 5 {
		switch last := segments[n-1]; last {
		case "collect", "start-processing", "results", "cancel":
			return last
		}
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}

// resourceOf returns the first segment after /api/v1/.
func resourceOf(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "unknown"
	}
	return rest
}
