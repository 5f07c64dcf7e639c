package rbac

import (
	"net/http"

	"fleet-dispatch/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireOperator enforces that an authenticated operator identity exists in context.
// This does not validate the operator record; that belongs to the authorization
// layer once persistence exists.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		op, err := auth.OperatorID(c.Request.Context())
		if err != nil || op == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator identity required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - automation is a hidden role, and will be denied unless explicitly allowed
// - operator identity is enforced via RequireOperator (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		// super_admin bypasses all
		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		// hidden roles are opt-in only
		if IsHiddenRole(role) {
			if _, ok := allowedSet[role]; !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
