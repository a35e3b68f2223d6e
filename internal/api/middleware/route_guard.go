package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/closingdesk/internal/auth"
	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/providers/identity"
)

const DefaultRefreshLeeway = 10 * time.Second

// OnboardingChecker reads the onboarding flag of a profile.
type OnboardingChecker interface {
	OnboardingCompleted(ctx context.Context, userID string) (bool, error)
}

type GuardDeps struct {
	Cookies  auth.CookieCodec
	Verifier *auth.Verifier
	Identity identity.Provider
	Profiles OnboardingChecker
	Events   events.Publisher // optional
	Policy   RoutePolicy
	Log      *logrus.Logger

	RefreshLeeway time.Duration
	Now           func() time.Time
}

// RouteGuard resolves the session on every guarded request, rotates expiring
// tokens and redirects callers that may not see the page. Identity provider
// failures degrade to an anonymous request.
func RouteGuard(d GuardDeps) gin.HandlerFunc {
	if d.RefreshLeeway <= 0 {
		d.RefreshLeeway = DefaultRefreshLeeway
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logrus.New()
	}
	if d.Policy.PublicExact == nil && d.Policy.PublicPrefixes == nil {
		d.Policy = DefaultRoutePolicy()
	}
	g := &guard{d}

	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if !ShouldGuard(p) {
			c.Next()
			return
		}

		s, id := g.resolve(c)
		if id != nil {
			c.Set(CtxUserID, id.ID)
			c.Set(CtxIdentity, *id)
			c.Set(CtxSession, s)
		}

		if d.Policy.IsPublic(p) {
			c.Next()
			return
		}
		if id == nil {
			redirect(c, RedirectAuthRequired)
			return
		}
		if d.Policy.IsOnboarding(p) {
			c.Next()
			return
		}

		done, err := d.Profiles.OnboardingCompleted(c.Request.Context(), id.ID)
		if err != nil {
			d.Log.WithError(err).WithFields(logrus.Fields{
				"path":    p,
				"user_id": id.ID,
			}).Warn("onboarding check failed")
		}
		if err != nil || !done {
			redirect(c, RedirectOnboarding)
			return
		}
		c.Next()
	}
}

func redirect(c *gin.Context, to string) {
	c.Redirect(http.StatusTemporaryRedirect, to)
	c.Abort()
}

type guard struct {
	GuardDeps
}

func (g *guard) warn(c *gin.Context, reason string, err error) {
	e := g.Log.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"reason": reason,
	})
	if err != nil {
		e = e.WithError(err)
	}
	e.Warn("session resolution failed, continuing anonymous")
}

// resolve returns the live session and identity, or nils for anonymous.
func (g *guard) resolve(c *gin.Context) (*models.Session, *models.Identity) {
	s, err := g.Cookies.Read(c.Request)
	switch {
	case errors.Is(err, auth.ErrNoSessionCookie):
		return g.bearer(c)
	case err != nil:
		g.warn(c, "malformed_cookie", err)
		return nil, nil
	}

	now := g.Now()
	claims, verr := g.Verifier.Verify(s.AccessToken)
	switch {
	case verr == nil && !expiresSoon(claims, s, now, g.RefreshLeeway):
		id := claims.Identity()
		s.User = id
		return s, &id
	case verr == nil, errors.Is(verr, auth.ErrTokenExpired):
		var userID string
		if claims != nil {
			userID = claims.Subject
		}
		return g.refresh(c, s, userID)
	default:
		g.warn(c, "invalid_token", verr)
		return nil, nil
	}
}

func expiresSoon(claims *auth.Claims, s *models.Session, now time.Time, leeway time.Duration) bool {
	if claims.ExpiresAt != nil {
		return !now.Add(leeway).Before(claims.ExpiresAt.Time)
	}
	return s.ExpiresWithin(now, leeway)
}

func (g *guard) refresh(c *gin.Context, old *models.Session, userID string) (*models.Session, *models.Identity) {
	ctx := c.Request.Context()
	if old.RefreshToken == "" {
		g.warn(c, "no_refresh_token", nil)
		return nil, nil
	}

	s, err := g.Identity.RefreshSession(ctx, old.RefreshToken)
	if errors.Is(err, identity.ErrRefreshTokenInvalid) {
		removed := g.Cookies.Clear(c.Writer, c.Request)
		g.Log.WithFields(logrus.Fields{
			"path":    c.Request.URL.Path,
			"user_id": userID,
			"cookies": removed,
		}).Info("refresh token rejected, session cookies cleared")
		g.publish(ctx, models.EventTokenRefreshFailed, userID, c.Request.URL.Path)
		return nil, nil
	}
	if err != nil {
		g.warn(c, "refresh_failed", err)
		return nil, nil
	}

	if s.User.ID == "" {
		claims, verr := g.Verifier.Verify(s.AccessToken)
		if verr != nil {
			g.warn(c, "refreshed_token_invalid", verr)
			return nil, nil
		}
		s.User = claims.Identity()
	}
	if err := g.Cookies.Write(c.Writer, c.Request, s); err != nil {
		g.warn(c, "cookie_write_failed", err)
	}
	g.publish(ctx, models.EventTokenRefreshed, s.User.ID, c.Request.URL.Path)

	id := s.User
	return s, &id
}

// bearer accepts API clients that send the access token directly. There is
// no refresh token, so an expired token is anonymous.
func (g *guard) bearer(c *gin.Context) (*models.Session, *models.Identity) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, nil
	}
	raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if raw == "" {
		return nil, nil
	}
	claims, err := g.Verifier.Verify(raw)
	if err != nil {
		g.warn(c, "invalid_bearer", err)
		return nil, nil
	}
	id := claims.Identity()
	s := &models.Session{AccessToken: raw, TokenType: "bearer", User: id}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return s, &id
}

func (g *guard) publish(ctx context.Context, t models.AuthEventType, userID, p string) {
	if g.Events == nil || userID == "" {
		return
	}
	if err := g.Events.Publish(ctx, models.AuthEvent{Type: t, UserID: userID, Path: p}); err != nil {
		g.Log.WithError(err).WithField("type", t).Warn("auth event publish failed")
	}
}
