package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/roles"
	"github.com/yoockh/closingdesk/internal/services"
	"github.com/yoockh/closingdesk/internal/utils"
)

type RoleHandler struct {
	profiles  services.ProfileService
	overrides *roles.OverrideStore
}

func NewRoleHandler(profiles services.ProfileService, overrides *roles.OverrideStore) *RoleHandler {
	return &RoleHandler{profiles: profiles, overrides: overrides}
}

// realRole is the stored role, or RoleUnknown while the profile row is missing.
func (h *RoleHandler) realRole(c *gin.Context, userID string) (models.Role, error) {
	p, err := h.profiles.Get(c.Request.Context(), userID)
	if utils.IsCode(err, utils.CodeNotFound) {
		return models.RoleUnknown, nil
	}
	if err != nil {
		return models.RoleUnknown, err
	}
	return p.Kind, nil
}

func (h *RoleHandler) Me(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}
	actual, err := h.realRole(c, id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles.Describe(roles.Input{Real: actual, Override: h.overrides.Get(c.Request)}))
}

type previewRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetPreview is mounted behind RequireAdmin.
func (h *RoleHandler) SetPreview(c *gin.Context) {
	const op = "RoleHandler.SetPreview"

	id, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req previewRoleRequest
	if !bindJSON(c, op, &req) {
		return
	}
	r, ok := models.ParseRole(req.Role)
	if !ok {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unknown role", nil))
		return
	}

	actual, err := h.realRole(c, id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if actual != models.RoleAdmin {
		writeError(c, utils.E(utils.CodeForbidden, op, "only admins can preview roles", nil))
		return
	}

	var override *models.Role
	if r != models.RoleAdmin {
		override = &r
	}
	h.overrides.Set(c.Writer, override)
	c.JSON(http.StatusOK, roles.Describe(roles.Input{Real: actual, Override: override}))
}

func (h *RoleHandler) ClearPreview(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}
	actual, err := h.realRole(c, id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.overrides.Clear(c.Writer)
	c.JSON(http.StatusOK, roles.Describe(roles.Input{Real: actual}))
}

type dashboardResponse struct {
	Layout string `json:"layout"`
	roles.View
}

// Dashboard picks the layout for the effective role. It carries no data, so
// previewing never exposes another role's records.
func (h *RoleHandler) Dashboard(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}
	actual, err := h.realRole(c, id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	v := roles.Describe(roles.Input{Real: actual, Override: h.overrides.Get(c.Request)})
	c.JSON(http.StatusOK, dashboardResponse{Layout: layoutFor(v), View: v})
}

func layoutFor(v roles.View) string {
	switch {
	case v.Effective == models.RoleAdmin:
		return "admin"
	case v.Effective == models.RoleCustomer:
		return "customer"
	case v.Category == roles.CategoryServiceProvider:
		return "provider"
	default:
		return "onboarding"
	}
}
