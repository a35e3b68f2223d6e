package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yoockh/closingdesk/internal/session"
	"github.com/yoockh/closingdesk/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type WSHandler struct {
	sessions *SessionHandler
	upgrader websocket.Upgrader
}

// NewWSHandler accepts upgrades from the same host or from allowedOrigins.
func NewWSHandler(sessions *SessionHandler, allowedOrigins []string) *WSHandler {
	allow := map[string]struct{}{}
	for _, o := range allowedOrigins {
		allow[o] = struct{}{}
	}
	return &WSHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allow[origin]; ok {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // refresh_profile | reload_session | sign_out
}

type wsServerMsg struct {
	Type    string            `json:"type"` // session | error
	Session *session.Snapshot `json:"session,omitempty"`
	Code    utils.Code        `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (w *wsConn) writeError(err error) error {
	msg := wsServerMsg{Type: "error", Code: utils.CodeOf(err), Message: "request failed"}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		msg.Message = ae.Message
	}
	return w.writeJSON(msg)
}

// Live pushes resolver snapshots for one page connection until either side
// hangs up.
func (h *WSHandler) Live(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	r := h.sessions.resolverFor(c)
	defer r.Close()

	wc := &wsConn{c: conn}
	snaps, stop := r.Watch()
	defer stop()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.Live", "invalid json", err))
				continue
			}

			switch msg.Type {
			case "refresh_profile":
				if err := r.RefreshProfile(ctx); err != nil {
					_ = wc.writeError(utils.E(utils.CodeUnavailable, "WSHandler.Live", "profile reload failed", err))
				}
			case "reload_session":
				if err := r.Reload(ctx); err != nil {
					_ = wc.writeError(utils.E(utils.CodeUnavailable, "WSHandler.Live", "session reload failed", err))
				}
			case "sign_out":
				if err := r.SignOut(ctx); err != nil {
					_ = wc.writeError(err)
				}
			default:
				_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.Live", "unknown message type", nil))
			}
		}
	}()

	r.Init(ctx)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := wc.writeJSON(wsServerMsg{Type: "session", Session: &snap}); err != nil {
				return
			}
		}
	}
}
