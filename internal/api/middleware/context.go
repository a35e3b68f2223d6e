package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/utils"
)

// Gin context keys set by RouteGuard and RequireRole.
const (
	CtxUserID   = "user_id"
	CtxIdentity = "identity"
	CtxSession  = "session"
	CtxProfile  = "profile"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func abortError(c *gin.Context, err error) {
	msg := "error"
	var ae *utils.AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	c.AbortWithStatusJSON(utils.HTTPStatus(err), apiError{Code: utils.CodeOf(err), Message: msg})
}

func SessionFrom(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*models.Session)
	return s, ok && s != nil
}

func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(CtxIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok && id.ID != ""
}

// ProfileFrom returns the profile loaded by RequireRole.
func ProfileFrom(c *gin.Context) (*models.Profile, bool) {
	v, ok := c.Get(CtxProfile)
	if !ok {
		return nil, false
	}
	p, ok := v.(*models.Profile)
	return p, ok && p != nil
}
