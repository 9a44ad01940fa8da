package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleLabManager   = "lab_manager"
	RoleLabTech      = "lab_tech"
	RoleReceptionist = "receptionist"
	RolePhysician    = "physician"
	RoleNurse        = "nurse"
)

// LabStaff are the roles allowed to read lab data.
var LabStaff = []string{RoleLabManager, RoleLabTech, RoleReceptionist, RolePhysician, RoleNurse}

// HasRole reports whether roles grant any of required. Admin grants all.
func HasRole(roles []string, required ...string) bool {
	for _, has := range roles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole rejects callers holding none of the given roles with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
