package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == "admin" {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequirePermission passes users holding one of perms, either as a granted
// permission or as a role of the same name. The admin role always passes.
func RequirePermission(perms ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			for _, role := range RolesFromContext(ctx) {
				if role == "admin" {
					return next(c)
				}
			}
			var granted []string
			granted = append(granted, PermissionsFromContext(ctx)...)
			granted = append(granted, RolesFromContext(ctx)...)
			for _, required := range perms {
				for _, g := range granted {
					if matchPermission(g, required) {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required permission: %s", strings.Join(perms, " or ")))
		}
	}
}

// matchPermission checks a granted "resource:action" permission against a
// required one. "*" matches any action and "*:*" matches everything.
func matchPermission(granted, required string) bool {
	if granted == required || granted == "*:*" {
		return true
	}

	gParts := strings.SplitN(granted, ":", 2)
	rParts := strings.SplitN(required, ":", 2)
	if len(gParts) != 2 || len(rParts) != 2 {
		return false
	}
	return gParts[0] == rParts[0] && gParts[1] == "*"
}
