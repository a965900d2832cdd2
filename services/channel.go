package services

import (
	"context"
	"fmt"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

// Channel delivers one notification over one mechanism. Send is called once
// per attempt and must classify failures with utils.NewTerminalError or
// utils.NewTransientError.
type Channel interface {
	Name() models.Channel
	Send(ctx context.Context, delivery *Delivery) error
}

// Delivery is the per-channel state of one dispatch. It lives across retry
// attempts so push can resend only the tokens that have not succeeded yet.
type Delivery struct {
	Notification *models.Notification
	Recipient    *models.RecipientContact
	Title        string
	Message      string

	PendingTokens   []string
	DeliveredTokens []string
	InvalidTokens   []string

	ProviderMessageID string
}

func NewDelivery(notification *models.Notification, recipient *models.RecipientContact) *Delivery {
	title, message := notification.ContentFor(recipient.Locale)
	return &Delivery{
		Notification:  notification,
		Recipient:     recipient,
		Title:         title,
		Message:       message,
		PendingTokens: utils.UniqueStrings(recipient.DeviceTokens),
	}
}

// PartiallyDelivered reports whether some push tokens succeeded even though others failed.
func (d *Delivery) PartiallyDelivered() bool {
	return len(d.DeliveredTokens) > 0
}

// stringData flattens a notification payload into provider string maps.
func stringData(n *models.Notification) map[string]string {
	data := make(map[string]string, len(n.Data)+3)
	for k, v := range n.Data {
		data[k] = fmt.Sprint(v)
	}
	data["notificationId"] = n.ID
	data["type"] = string(n.Type)
	data["category"] = string(n.Category)
	return data
}

// callWithContext runs a provider call that has no context support and gives
// up waiting when ctx is done.
func callWithContext(ctx context.Context, channel models.Channel, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return utils.NewTransientError(string(channel), utils.ErrCodeTimeout, ctx.Err())
	}
}
