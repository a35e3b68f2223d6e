package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/utils"
)

type ProfileGetter interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
}

// RequireUser rejects requests the guard did not attach a user to.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); !ok {
			abortError(c, utils.E(utils.CodeUnauthorized, "RequireUser", "sign in required", nil))
			return
		}
		c.Next()
	}
}

// RequireRole authorizes on the stored profile role. A preview override never
// reaches this check.
func RequireRole(profiles ProfileGetter, allowed ...models.Role) gin.HandlerFunc {
	allow := map[models.Role]struct{}{}
	for _, a := range allowed {
		if a.Known() {
			allow[a] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		const op = "RequireRole"

		id, ok := IdentityFrom(c)
		if !ok {
			abortError(c, utils.E(utils.CodeUnauthorized, op, "sign in required", nil))
			return
		}

		p, err := profiles.Get(c.Request.Context(), id.ID)
		if err != nil {
			if utils.IsCode(err, utils.CodeNotFound) {
				abortError(c, utils.E(utils.CodeForbidden, op, "forbidden", err))
				return
			}
			abortError(c, err)
			return
		}
		if _, ok := allow[p.Kind]; !ok {
			abortError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
			return
		}

		c.Set(CtxProfile, p)
		c.Next()
	}
}

func RequireAdmin(profiles ProfileGetter) gin.HandlerFunc {
	return RequireRole(profiles, models.RoleAdmin)
}
