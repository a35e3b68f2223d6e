package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const ctxRequestID = "request_id"

// RequestLogger tags each request with an X-Request-Id and logs one line when
// it finishes, including guard redirects.
func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set(ctxRequestID, reqID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"route":      route,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		if uid := c.GetString(CtxUserID); uid != "" {
			fields["user_id"] = uid
		}
		if status >= 300 && status < 400 {
			fields["location"] = c.Writer.Header().Get("Location")
		}
		entry := l.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
