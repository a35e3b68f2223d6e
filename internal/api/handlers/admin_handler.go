package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/models"
	pgrepo "github.com/yoockh/closingdesk/internal/repositories/postgres"
	"github.com/yoockh/closingdesk/internal/services"
	"github.com/yoockh/closingdesk/internal/utils"
)

// AdminHandler serves oversight endpoints. Routes mount it behind RequireAdmin.
type AdminHandler struct {
	svc services.AdminService
}

func NewAdminHandler(svc services.AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) ListProfiles(c *gin.Context) {
	const op = "AdminHandler.ListProfiles"

	var f pgrepo.ProfileFilter
	if v := c.Query("role"); v != "" {
		r, ok := models.ParseRole(v)
		if !ok {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "unknown role", nil))
			return
		}
		f.Role = r
	}
	if v := c.Query("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "completed must be a boolean", err))
			return
		}
		f.Completed = &b
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.svc.ListProfiles(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *AdminHandler) UpdateProfile(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req services.AdminProfileUpdate
	if !bindJSON(c, "AdminHandler.UpdateProfile", &req) {
		return
	}

	p, err := h.svc.UpdateProfile(c.Request.Context(), id.ID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AdminHandler) AuthEvents(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)

	evs, err := h.svc.AuthEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
