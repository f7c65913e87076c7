// Package handler exposes the relay over HTTP: the JSON control plane and the
// two websocket endpoints.
package handler

import (
	"errors"
	"net/http"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/matchmaking"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/presence"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/relayhub"
	"peerlink/backend/internal/rooms"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler holds the services behind every route.
type Handler struct {
	Hub      *relayhub.Hub
	Manager  *matchmaking.Manager
	Rooms    *rooms.Registry
	Presence *presence.Store
	Client   relayhub.ClientConfig
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	ICE      []webrtc.ICEServer
	Auth     config.Auth

	log zerolog.Logger
}

func NewHandler(h Handler) *Handler {
	if h.Metrics == nil {
		h.Metrics = metrics.Nop()
	}
	if h.ICE == nil {
		h.ICE = []webrtc.ICEServer{}
	}
	h.log = log.Logger.With().Str("component", "http").Logger()
	return &h
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Health)
	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/ws/signaling/:event_code", h.ServeSignaling)
	r.GET("/ws/matchmaking/:user_id", h.RequireToken(), h.ServeMatchmaking)

	api := r.Group("/api")
	{
		api.POST("/matchmaking/requests", h.CreateRequest)
		api.GET("/matchmaking/requests", h.ListRequests)
		api.POST("/matchmaking/requests/:id/respond", h.RespondRequest)
		api.POST("/matchmaking/requests/:id/status", h.UpdateRequestStatus)

		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/code/:code", h.GetRoomByCode)
		api.GET("/rooms/:room_id", h.GetRoom)
		api.POST("/rooms/:room_id/join", h.JoinRoom)
		api.POST("/rooms/:room_id/enter", h.EnterRoom)
		api.POST("/rooms/:room_id/leave", h.LeaveRoom)
		api.GET("/users/:user_id/rooms", h.ListUserRooms)

		api.GET("/presence/online", h.ListOnline)
		api.PATCH("/presence/:user_id", h.UpdatePresence)
		api.GET("/users/:user_id/friends/online", h.ListOnlineFriends)

		api.GET("/ice-servers", h.ICEServers)
		api.GET("/token/:user_id", h.IssueToken)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "groups": h.Hub.Groups()})
}

func (h *Handler) ICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.ICE})
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, relayerr.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, relayerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, relayerr.ErrConflict), errors.Is(err, relayerr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, relayerr.ErrNotAvailable):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": relayerr.Code(err)})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.fail(c, relayerr.New(relayerr.ErrInvalidArgument, "%s", err.Error()))
}
