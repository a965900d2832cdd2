package routes

import (
	"github.com/Thenameisdebojit/farmora-sub001/controllers"
	"github.com/Thenameisdebojit/farmora-sub001/middleware"
	"github.com/gin-gonic/gin"
)

// SetupWebSocketRoutes registers the live session endpoint. Browsers pass the
// token as ?token= because they cannot set headers on the upgrade request.
func SetupWebSocketRoutes(router *gin.Engine, wsController *controllers.WebSocketController, auth *middleware.AuthMiddleware) {
	router.GET("/ws", auth.RequireAuth(), wsController.HandleWebSocket)
}
