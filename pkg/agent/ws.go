package agent

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Principal is the authenticated identity behind a bearer token, carried
// from the websocket handshake through to node:register so the registered
// node can be attributed to its real owner rather than its connection.
type Principal struct {
	UserID string
	Role   string
}

// Authenticator verifies the bearer token an agent presents before its
// websocket connection is accepted (spec §4.E: "bearer-token auth, then
// node:register"). The returned Principal identifies who is registering the
// node; a node's own identity is established afterward by the node:register
// message, not by the token itself.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// Handler upgrades GET /ws into an agent connection and hands it to a Hub.
type Handler struct {
	hub    *Hub
	auth   Authenticator
	logger *slog.Logger

	upgrader websocket.Upgrader
}

// NewHandler creates a websocket upgrade handler bound to hub.
func NewHandler(hub *Hub, authenticator Authenticator, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		auth:   authenticator,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the caller, upgrades the connection, and blocks
// serving it until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	principal, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		h.logger.Warn("agent connection rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	h.logger.Info("agent connection opened", "connId", connID, "remote", r.RemoteAddr)
	h.hub.Serve(r.Context(), connID, ws, principal)
}

func bearerToken(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	if strings.HasPrefix(v, "bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "bearer "))
	}
	return ""
}
