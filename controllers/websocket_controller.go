package controllers

import (
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/Thenameisdebojit/farmora-sub001/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{hub: hub}
}

// HandleWebSocket upgrades an authenticated request to a live session.
// @Param token query string true "Authentication token"
// @Success 101 "Switching Protocols"
// @Router /ws [get]
func (wsc *WebSocketController) HandleWebSocket(c *gin.Context) {
	userID := utils.GetUserID(c)
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	// the upgrader has already written the HTTP error when this fails
	if err := wsc.hub.ServeWS(c.Writer, c.Request, userID); err != nil {
		logrus.WithField("userId", userID).Warnf("WebSocket upgrade failed: %v", err)
	}
}

// GetConnectedUsers lists users with at least one live session (admin only).
// @Router /admin/ws/connected [get]
func (wsc *WebSocketController) GetConnectedUsers(c *gin.Context) {
	users := wsc.hub.ConnectedUsers()
	utils.SuccessResponse(c, "Connected users retrieved successfully", gin.H{
		"users": users,
		"count": len(users),
	})
}

// GetConnectionStats returns hub counters (admin only).
// @Router /admin/ws/stats [get]
func (wsc *WebSocketController) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, "Connection stats retrieved successfully", wsc.hub.Stats())
}
