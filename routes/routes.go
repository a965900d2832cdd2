package routes

import (
	"github.com/Thenameisdebojit/farmora-sub001/controllers"
	"github.com/Thenameisdebojit/farmora-sub001/middleware"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Controllers groups everything the router serves.
type Controllers struct {
	Health       *controllers.HealthController
	Notification *controllers.NotificationController
	Admin        *controllers.AdminController
	WebSocket    *controllers.WebSocketController
}

// SetupRoutes builds the HTTP router. gatherer backs GET /metrics.
func SetupRoutes(ctrls *Controllers, jwtService *utils.JWTService, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.LoggerMiddleware(logrus.StandardLogger(), "/metrics", "/health"))

	auth := middleware.NewAuthMiddleware(jwtService)

	router.GET("/health", ctrls.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	SetupWebSocketRoutes(router, ctrls.WebSocket, auth)

	api := router.Group("/api/v1")
	api.Use(auth.RequireAuth())
	SetupNotificationRoutes(api, ctrls.Notification, auth)

	admin := router.Group("/admin")
	admin.Use(auth.RequireAuth(), auth.RequireAdmin())
	{
		admin.GET("/jobs", ctrls.Admin.GetJobs)
		admin.POST("/jobs/:name/run", ctrls.Admin.RunJob)
		admin.GET("/analytics", ctrls.Admin.GetAnalytics)
		admin.GET("/ws/connected", ctrls.WebSocket.GetConnectedUsers)
		admin.GET("/ws/stats", ctrls.WebSocket.GetConnectionStats)
	}

	router.NoRoute(func(c *gin.Context) {
		utils.NotFoundResponse(c, "Route")
	})

	return router
}
