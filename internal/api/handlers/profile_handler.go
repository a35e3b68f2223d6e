package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/services"
)

type ProfileHandler struct {
	svc services.ProfileService
}

func NewProfileHandler(svc services.ProfileService) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

func (h *ProfileHandler) Me(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	p, err := h.svc.Get(c.Request.Context(), id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Update changes contact fields only. Role and onboarding state go through
// the onboarding endpoints.
func (h *ProfileHandler) Update(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req services.ContactUpdate
	if !bindJSON(c, "ProfileHandler.Update", &req) {
		return
	}

	p, err := h.svc.UpdateContact(c.Request.Context(), id.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type OnboardingState struct {
	Step      int    `json:"step"`
	MaxStep   int    `json:"max_step"`
	Completed bool   `json:"completed"`
	Role      string `json:"role"`
	RoleLock  bool   `json:"role_locked"`
}

func (h *ProfileHandler) Onboarding(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	p, err := h.svc.Get(c.Request.Context(), id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, OnboardingState{
		Step:      p.OnboardingStep,
		MaxStep:   services.MaxOnboardingStep,
		Completed: p.OnboardingCompleted,
		Role:      string(p.Kind),
		RoleLock:  p.RoleLocked(),
	})
}

func (h *ProfileHandler) SaveStep(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req services.OnboardingStepInput
	if !bindJSON(c, "ProfileHandler.SaveStep", &req) {
		return
	}

	p, err := h.svc.SaveOnboardingStep(c.Request.Context(), id.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProfileHandler) Complete(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	p, err := h.svc.CompleteOnboarding(c.Request.Context(), id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
