package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"rentbridge.com/app/internal/shared/apperr"
)

// RequireRole allows only callers holding one of roles. Resource-level checks
// (is this the lease's tenant?) stay in the handlers.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		if !slices.Contains(roles, u.Role) {
			Fail(c, apperr.ForbiddenErr("Forbidden."))
			return
		}
		c.Next()
	}
}
