package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/api/handlers"
	"github.com/yoockh/closingdesk/internal/api/middleware"
)

type Deps struct {
	Auth    *handlers.AuthHandler
	Session *handlers.SessionHandler
	WS      *handlers.WSHandler
	Profile *handlers.ProfileHandler
	Role    *handlers.RoleHandler
	Admin   *handlers.AdminHandler

	// Profiles backs RequireAdmin.
	Profiles middleware.ProfileGetter

	// AuthLimiter throttles sign-in and sign-out. Nil disables it.
	AuthLimiter gin.HandlerFunc
}

// DefaultAuthLimiter allows a burst of 10 auth calls per IP, refilling one
// every six seconds.
func DefaultAuthLimiter() gin.HandlerFunc {
	return middleware.RateLimitByIP(6*time.Second, 10)
}

// RegisterRoutes mounts the API. The route guard must already be installed on r.
func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	limited := []gin.HandlerFunc{}
	if d.AuthLimiter != nil {
		limited = append(limited, d.AuthLimiter)
	}

	r.GET("/auth/callback", append(limited, d.Auth.Callback)...)

	api := r.Group("/api")
	api.POST("/auth/signout", append(limited, d.Auth.SignOut)...)
	api.GET("/session", d.Session.Get)
	api.GET("/session/ws", d.WS.Live)

	user := api.Group("/")
	user.Use(middleware.RequireUser())

	user.GET("/profile/me", d.Profile.Me)
	user.PUT("/profile/me", d.Profile.Update)

	user.GET("/onboarding", d.Profile.Onboarding)
	user.PUT("/onboarding/step", d.Profile.SaveStep)
	user.POST("/onboarding/complete", d.Profile.Complete)

	user.GET("/me/role", d.Role.Me)
	user.PUT("/me/preview-role", middleware.RequireAdmin(d.Profiles), d.Role.SetPreview)
	user.DELETE("/me/preview-role", d.Role.ClearPreview)
	user.GET("/dashboard", d.Role.Dashboard)

	admin := user.Group("/admin")
	admin.Use(middleware.RequireAdmin(d.Profiles))
	admin.GET("/profiles", d.Admin.ListProfiles)
	admin.PATCH("/profiles/:id", d.Admin.UpdateProfile)
	admin.GET("/stats", d.Admin.Stats)
	admin.GET("/users/:id/auth-events", d.Admin.AuthEvents)
}
