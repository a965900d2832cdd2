package routes

import (
	"github.com/Thenameisdebojit/farmora-sub001/controllers"
	"github.com/Thenameisdebojit/farmora-sub001/middleware"
	"github.com/gin-gonic/gin"
)

// SetupNotificationRoutes configures the recipient-facing notification routes.
// router must already require authentication.
func SetupNotificationRoutes(router *gin.RouterGroup, notificationController *controllers.NotificationController, auth *middleware.AuthMiddleware) {
	notifications := router.Group("/notifications")

	notifications.POST("", auth.RequireAdmin(), notificationController.CreateNotification)

	notifications.GET("", notificationController.GetNotifications)
	notifications.GET("/unread-count", notificationController.GetUnreadCount)
	notifications.GET("/:id", notificationController.GetNotification)
	notifications.PUT("/:id/read", notificationController.MarkAsRead)
	notifications.PUT("/:id/dismiss", notificationController.Dismiss)
	notifications.POST("/:id/interactions", notificationController.RecordInteraction)
}
