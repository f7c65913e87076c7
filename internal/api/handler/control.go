package handler

import (
	"net/http"
	"peerlink/backend/internal/matchmaking"
	"peerlink/backend/internal/presence"

	"github.com/gin-gonic/gin"
)

type createRequestBody struct {
	RequesterID  string `json:"requester_id" binding:"required"`
	TargetUserID string `json:"target_user_id" binding:"required"`
}

type respondBody struct {
	Action matchmaking.Action `json:"action" binding:"required"`
}

type statusBody struct {
	Action matchmaking.StatusAction `json:"action" binding:"required"`
	UserID string                   `json:"user_id" binding:"required"`
}

type createRoomBody struct {
	CreatorID    string `json:"creator_id" binding:"required"`
	TargetUserID string `json:"target_user_id"`
	Title        string `json:"title"`
}

type userBody struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) CreateRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	req, err := h.Manager.Create(c.Request.Context(), body.RequesterID, body.TargetUserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListRequests(c *gin.Context) {
	list, err := h.Manager.ListFor(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) RespondRequest(c *gin.Context) {
	var body respondBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	req, err := h.Manager.Act(c.Request.Context(), c.Param("id"), body.Action)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) UpdateRequestStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	req, err := h.Manager.UpdateStatus(c.Request.Context(), c.Param("id"), body.Action, body.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var body createRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	room, err := h.Rooms.Create(c.Request.Context(), body.CreatorID, body.TargetUserID, body.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := h.Rooms.Get(c.Request.Context(), room.ID, body.CreatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) GetRoom(c *gin.Context) {
	view, err := h.Rooms.Get(c.Request.Context(), c.Param("room_id"), c.Query("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) GetRoomByCode(c *gin.Context) {
	view, err := h.Rooms.GetByCode(c.Request.Context(), c.Param("code"), c.Query("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ListUserRooms(c *gin.Context) {
	views, err := h.Rooms.ListForUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}

func (h *Handler) JoinRoom(c *gin.Context) {
	var body userBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.Rooms.Join(c.Request.Context(), c.Param("room_id"), body.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) EnterRoom(c *gin.Context) {
	var body userBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.Rooms.Enter(c.Request.Context(), c.Param("room_id"), body.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	var body userBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.Rooms.Leave(c.Request.Context(), c.Param("room_id"), body.UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

func (h *Handler) ListOnline(c *gin.Context) {
	users, err := h.Presence.Online(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]presence.Status, 0, len(users))
	for i := range users {
		out = append(out, presence.StatusOf(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h *Handler) UpdatePresence(c *gin.Context) {
	var body presence.Update
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	u, err := h.Presence.Apply(c.Request.Context(), c.Param("user_id"), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presence.StatusOf(u))
}

func (h *Handler) ListOnlineFriends(c *gin.Context) {
	users, err := h.Presence.OnlineFriends(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]presence.Status, 0, len(users))
	for i := range users {
		out = append(out, presence.StatusOf(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"friends": out})
}
