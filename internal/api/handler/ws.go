package handler

import (
	"net/http"
	"peerlink/backend/internal/matchmaking"
	"peerlink/backend/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the app origin, which differs per deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeSignaling upgrades first and lets the session validate the event code,
// so a bad code is reported with a websocket close frame.
func (h *Handler) ServeSignaling(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("signaling upgrade failed")
		return
	}
	signaling.Serve(conn, c.Param("event_code"), signaling.SessionDeps{
		Hub:     h.Hub,
		Client:  h.Client,
		Metrics: h.Metrics,
	})
}

func (h *Handler) ServeMatchmaking(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("matchmaking upgrade failed")
		return
	}
	matchmaking.Serve(c.Request.Context(), conn, c.Param("user_id"), matchmaking.SessionDeps{
		Hub:      h.Hub,
		Presence: h.Presence,
		Manager:  h.Manager,
		Client:   h.Client,
		Metrics:  h.Metrics,
	})
}
