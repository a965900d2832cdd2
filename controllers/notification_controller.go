package controllers

import (
	"strconv"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/services"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type NotificationController struct {
	notificationService *services.NotificationService
}

func NewNotificationController(notificationService *services.NotificationService) *NotificationController {
	return &NotificationController{
		notificationService: notificationService,
	}
}

// CreateNotification stores a notification for any recipient (admin only).
// Notifications without scheduledFor are dispatched right away.
// @Router /notifications [post]
func (nc *NotificationController) CreateNotification(c *gin.Context) {
	var req models.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	notification, err := nc.notificationService.Create(c.Request.Context(), req)
	if err != nil {
		logrus.WithField("recipientId", req.RecipientID).Warnf("Create notification failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, "Notification created successfully", notification)
}

// GetNotifications lists the caller's notifications.
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Param q query string false "Text search on title and message"
// @Param category query string false "Category filter"
// @Param status query string false "Status filter"
// @Param unread query bool false "Only unread"
// @Router /notifications [get]
func (nc *NotificationController) GetNotifications(c *gin.Context) {
	userID := utils.GetUserID(c)

	query := models.SearchQuery{
		Text:     c.Query("q"),
		Category: models.NotificationCategory(c.Query("category")),
		Status:   models.NotificationStatus(c.Query("status")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	if unread, err := strconv.ParseBool(c.DefaultQuery("unread", "false")); err == nil {
		query.UnreadOnly = unread
	}

	notifications, total, err := nc.notificationService.Search(c.Request.Context(), userID, query)
	if err != nil {
		logrus.WithField("userId", userID).Errorf("Get notifications failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Notifications retrieved successfully", notifications,
		utils.CreatePaginationMeta(query.Page, query.PageSize, total))
}

// GetNotification returns one of the caller's notifications.
// @Router /notifications/{id} [get]
func (nc *NotificationController) GetNotification(c *gin.Context) {
	userID := utils.GetUserID(c)

	notification, err := nc.notificationService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	if notification.RecipientID != userID {
		utils.NotFoundResponse(c, "Notification")
		return
	}

	utils.SuccessResponse(c, "Notification retrieved successfully", notification)
}

// GetUnreadCount returns the total unread count and the per-category counts.
// @Router /notifications/unread-count [get]
func (nc *NotificationController) GetUnreadCount(c *gin.Context) {
	userID := utils.GetUserID(c)

	total, err := nc.notificationService.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	byCategory, err := nc.notificationService.UnreadCountByCategory(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Unread count retrieved successfully", gin.H{
		"total":      total,
		"byCategory": byCategory,
	})
}

// @Router /notifications/{id}/read [put]
func (nc *NotificationController) MarkAsRead(c *gin.Context) {
	if err := nc.notificationService.MarkRead(c.Request.Context(), utils.GetUserID(c), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Notification marked as read", nil)
}

// @Router /notifications/{id}/dismiss [put]
func (nc *NotificationController) Dismiss(c *gin.Context) {
	if err := nc.notificationService.Dismiss(c.Request.Context(), utils.GetUserID(c), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Notification dismissed", nil)
}

type interactionRequest struct {
	Action   string                 `json:"action" binding:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// @Router /notifications/{id}/interactions [post]
func (nc *NotificationController) RecordInteraction(c *gin.Context) {
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	err := nc.notificationService.RecordInteraction(c.Request.Context(), utils.GetUserID(c), c.Param("id"), req.Action, req.Metadata)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Interaction recorded", nil)
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	if value := c.Query(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
