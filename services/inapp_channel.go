package services

import (
	"context"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/sirupsen/logrus"
)

const EventNotificationNew = "notification:new"

// SessionRegistry pushes real-time events to a user's live sessions. Emits are
// best effort and must not block.
type SessionRegistry interface {
	EmitToUser(userID, event string, payload interface{})
}

// InAppPayload is the real-time event body for a new notification.
type InAppPayload struct {
	ID        string                      `json:"id"`
	Type      models.NotificationType     `json:"type"`
	Category  models.NotificationCategory `json:"category"`
	Priority  models.NotificationPriority `json:"priority"`
	Title     string                      `json:"title"`
	Message   string                      `json:"message"`
	Data      map[string]interface{}      `json:"data,omitempty"`
	CreatedAt time.Time                   `json:"createdAt"`
}

// InAppChannel delivers through the stored record, which is the in-app inbox.
// The live emit is a courtesy and never fails the channel.
type InAppChannel struct {
	sessions SessionRegistry
}

var _ Channel = (*InAppChannel)(nil)

func NewInAppChannel(sessions SessionRegistry) *InAppChannel {
	return &InAppChannel{sessions: sessions}
}

func (ic *InAppChannel) Name() models.Channel {
	return models.ChannelInApp
}

func (ic *InAppChannel) Send(ctx context.Context, d *Delivery) error {
	if ic.sessions == nil {
		logrus.WithField("notificationId", d.Notification.ID).Debug("No session registry, in-app notification stored only")
		return nil
	}

	n := d.Notification
	ic.sessions.EmitToUser(n.RecipientID, EventNotificationNew, InAppPayload{
		ID:        n.ID,
		Type:      n.Type,
		Category:  n.Category,
		Priority:  n.Priority,
		Title:     d.Title,
		Message:   d.Message,
		Data:      n.Data,
		CreatedAt: n.CreatedAt,
	})
	return nil
}
