package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/closingdesk/internal/api/middleware"
	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/providers/identity"
	"github.com/yoockh/closingdesk/internal/services"
	"github.com/yoockh/closingdesk/internal/session"
	"github.com/yoockh/closingdesk/internal/utils"
)

type SessionHandler struct {
	idp         identity.Provider
	profiles    services.ProfileService
	bus         events.Bus
	initTimeout time.Duration
	log         *logrus.Logger
}

func NewSessionHandler(idp identity.Provider, profiles services.ProfileService, bus events.Bus, initTimeout time.Duration, log *logrus.Logger) *SessionHandler {
	return &SessionHandler{idp: idp, profiles: profiles, bus: bus, initTimeout: initTimeout, log: log}
}

// resolverFor builds a resolver over the session the guard attached to c. The
// provider confirms the user before the session is trusted.
func (h *SessionHandler) resolverFor(c *gin.Context) *session.Resolver {
	s, _ := middleware.SessionFrom(c)
	src := session.SessionFunc(func(ctx context.Context) (*models.Session, error) {
		if s == nil {
			return nil, nil
		}
		u, err := h.idp.GetUser(ctx, s.AccessToken)
		if errors.Is(err, identity.ErrAccessDenied) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		cp := *s
		cp.User = *u
		return &cp, nil
	})

	deps := session.Deps{
		Source:      src,
		Profiles:    h.profiles,
		Identity:    h.idp,
		InitTimeout: h.initTimeout,
		Log:         h.log,
	}
	if h.bus != nil {
		deps.Subscriber = h.bus
		deps.Publisher = h.bus
	}
	return session.New(deps)
}

// Get returns the settled session state for a page bootstrap.
func (h *SessionHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	r := h.resolverFor(c)
	defer r.Close()

	r.Init(ctx)
	snap, err := r.Settled(ctx)
	if err != nil {
		writeError(c, utils.E(utils.CodeTimeout, "SessionHandler.Get", "session did not settle", err))
		return
	}
	c.JSON(http.StatusOK, snap)
}
