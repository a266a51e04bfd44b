package handler

import (
	"net/http"
	"net/url"
	"sparkchat/backend/internal/chathub"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin admits requests without an Origin header (native clients) and
// browser requests from one of h.Origins, compared by scheme and host.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.Origins {
		a, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if strings.EqualFold(a.Scheme, u.Scheme) && strings.EqualFold(a.Host, u.Host) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// ServeWebSocket upgrades an authenticated request and hands the connection to the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := currentUser(c)

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn().Err(err).Str("user", userID).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, h.Engine, userID, conn)
	if !h.Hub.Register(client) {
		client.Close()
		conn.Close()
		return
	}
	client.Run()
}
