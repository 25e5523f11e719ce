package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the user in ctx holds any of roles. Admins hold all.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// PrimaryRole picks the most privileged clinic role the user holds.
func PrimaryRole(ctx context.Context) string {
	best := ""
	rank := map[string]int{RoleStaff: 1, RoleDoctor: 2, RoleAdmin: 3}
	for _, r := range RolesFromContext(ctx) {
		if rank[r] > rank[best] {
			best = r
		}
	}
	return best
}
