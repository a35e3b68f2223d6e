package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/closingdesk/internal/api/middleware"
	"github.com/yoockh/closingdesk/internal/auth"
	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/providers/identity"
	"github.com/yoockh/closingdesk/internal/roles"
	"github.com/yoockh/closingdesk/internal/services"
)

const redirectAuthError = "/?auth=error"

type AuthHandler struct {
	idp       identity.Provider
	cookies   auth.CookieCodec
	overrides *roles.OverrideStore
	profiles  services.ProfileService
	events    events.Publisher
	log       *logrus.Logger
}

func NewAuthHandler(idp identity.Provider, cookies auth.CookieCodec, overrides *roles.OverrideStore, profiles services.ProfileService, ev events.Publisher, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{idp: idp, cookies: cookies, overrides: overrides, profiles: profiles, events: ev, log: log}
}

// Callback finishes the PKCE sign-in started by the frontend.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Query("code")
	if c.Query("error") != "" || code == "" {
		h.log.WithFields(logrus.Fields{
			"error":       c.Query("error"),
			"description": c.Query("error_description"),
		}).Warn("auth callback without code")
		c.Redirect(http.StatusFound, redirectAuthError)
		return
	}

	verifier, ok := h.cookies.CodeVerifier(c.Request)
	if !ok {
		h.log.Warn("auth callback without code verifier")
		c.Redirect(http.StatusFound, redirectAuthError)
		return
	}

	s, err := h.idp.ExchangeCode(ctx, code, verifier)
	if err != nil {
		h.log.WithError(err).Warn("auth code exchange failed")
		c.Redirect(http.StatusFound, redirectAuthError)
		return
	}
	if err := h.cookies.Write(c.Writer, c.Request, s); err != nil {
		h.log.WithError(err).Error("session cookie write failed")
		c.Redirect(http.StatusFound, redirectAuthError)
		return
	}
	h.cookies.ExpireCodeVerifier(c.Writer)

	completed := false
	p, created, err := h.profiles.EnsureProfile(ctx, s.User)
	if err != nil {
		h.log.WithError(err).WithField("user_id", s.User.ID).Error("profile provisioning failed")
	} else {
		completed = p.OnboardingCompleted
		if created {
			h.log.WithField("user_id", s.User.ID).Info("profile created on first sign-in")
		}
	}

	if h.events != nil {
		if err := h.events.Publish(ctx, models.AuthEvent{Type: models.EventSignedIn, UserID: s.User.ID, Path: c.Request.URL.Path}); err != nil {
			h.log.WithError(err).Warn("publish SIGNED_IN failed")
		}
	}

	target := "/dashboard"
	switch next := c.Query("next"); {
	case safeNext(next):
		target = next
	case !completed:
		target = middleware.RedirectOnboarding
	}
	c.Redirect(http.StatusFound, target)
}

// safeNext accepts only same-origin absolute paths.
func safeNext(next string) bool {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return false
	}
	u, err := url.Parse(next)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	ctx := c.Request.Context()

	if s, ok := middleware.SessionFrom(c); ok {
		if err := h.idp.SignOut(ctx, s.AccessToken); err != nil {
			h.log.WithError(err).WithField("user_id", s.User.ID).Warn("provider sign-out failed")
		}
		if h.events != nil {
			if err := h.events.Publish(ctx, models.AuthEvent{Type: models.EventSignedOut, UserID: s.User.ID, Path: c.Request.URL.Path}); err != nil {
				h.log.WithError(err).Warn("publish SIGNED_OUT failed")
			}
		}
	}

	h.cookies.Clear(c.Writer, c.Request)
	h.overrides.Clear(c.Writer)
	c.Status(http.StatusNoContent)
}
