package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	limit "github.com/yangxikun/gin-limit-by-key"
	"golang.org/x/time/rate"

	"github.com/yoockh/closingdesk/internal/utils"
)

// RateLimitByIP allows burst requests per client IP, refilling one token every
// interval. Idle limiters are dropped after an hour.
func RateLimitByIP(interval time.Duration, burst int) gin.HandlerFunc {
	return limit.NewRateLimiter(
		func(c *gin.Context) string { return c.ClientIP() },
		func(c *gin.Context) (*rate.Limiter, time.Duration) {
			return rate.NewLimiter(rate.Every(interval), burst), time.Hour
		},
		func(c *gin.Context) {
			abortError(c, utils.E(utils.CodeRateLimited, "RateLimitByIP", "too many requests", nil))
		},
	)
}
