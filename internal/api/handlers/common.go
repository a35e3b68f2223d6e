package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/api/middleware"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requireIdentity(c *gin.Context) (models.Identity, bool) {
	if id, ok := middleware.IdentityFrom(c); ok {
		return id, true
	}
	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return models.Identity{}, false
}

func bindJSON(c *gin.Context, op string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return false
	}
	return true
}
