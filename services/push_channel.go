package services

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/sirupsen/logrus"
)

// fcmMulticastLimit is the most tokens FCM accepts in one multicast.
const fcmMulticastLimit = 500

// FCMClient is the subset of *messaging.Client used for push.
type FCMClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type PushChannel struct {
	client FCMClient
}

var _ Channel = (*PushChannel)(nil)

// NewPushChannel creates the push adapter. A nil client makes every send fail terminally.
func NewPushChannel(client FCMClient) *PushChannel {
	return &PushChannel{client: client}
}

func (pc *PushChannel) Name() models.Channel {
	return models.ChannelPush
}

func (pc *PushChannel) Send(ctx context.Context, d *Delivery) error {
	if pc.client == nil {
		return utils.NewTerminalError(string(models.ChannelPush), utils.ErrCodeNotInitialized, fmt.Errorf("FCM client is not configured"))
	}
	if len(d.PendingTokens) == 0 {
		if d.PartiallyDelivered() {
			return nil
		}
		return utils.NewTerminalError(string(models.ChannelPush), utils.ErrCodeNoDeviceTokens, nil)
	}

	var pending []string
	var lastErr error
	for start := 0; start < len(d.PendingTokens); start += fcmMulticastLimit {
		end := start + fcmMulticastLimit
		if end > len(d.PendingTokens) {
			end = len(d.PendingTokens)
		}
		batch := d.PendingTokens[start:end]

		response, err := pc.client.SendEachForMulticast(ctx, pc.buildMessage(d, batch))
		if err != nil {
			classified := classifyFCMError(err)
			if utils.IsTerminal(classified) {
				return classified
			}
			pending = append(pending, batch...)
			lastErr = classified
			continue
		}

		for i, token := range batch {
			if i >= len(response.Responses) {
				pending = append(pending, token)
				continue
			}
			result := response.Responses[i]
			if result.Success {
				d.DeliveredTokens = append(d.DeliveredTokens, token)
				d.ProviderMessageID = result.MessageID
				continue
			}
			classified := classifyFCMError(result.Error)
			if utils.IsTerminal(classified) {
				d.InvalidTokens = append(d.InvalidTokens, token)
				logrus.WithFields(logrus.Fields{
					"notificationId": d.Notification.ID,
					"token":          utils.MaskToken(token),
				}).Warnf("Push token rejected: %v", result.Error)
				continue
			}
			pending = append(pending, token)
			lastErr = classified
		}
	}

	d.PendingTokens = pending
	if len(pending) > 0 {
		return lastErr
	}
	if !d.PartiallyDelivered() {
		return utils.NewTerminalError(string(models.ChannelPush), utils.ErrCodeInvalidToken,
			fmt.Errorf("all %d device tokens were rejected", len(d.InvalidTokens)))
	}
	return nil
}

func (pc *PushChannel) buildMessage(d *Delivery, tokens []string) *messaging.MulticastMessage {
	androidPriority := "normal"
	if d.Notification.Priority == models.PriorityHigh || d.Notification.Priority == models.PriorityCritical {
		androidPriority = "high"
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: d.Title,
			Body:  d.Message,
		},
		Data: stringData(d.Notification),
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				Icon:  "ic_notification",
				Color: "#2E7D32",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: d.Title,
						Body:  d.Message,
					},
					Sound: "default",
				},
			},
		},
	}
}

// classifyFCMError maps FCM errors onto terminal and transient failures.
func classifyFCMError(err error) error {
	if err == nil {
		return utils.NewTransientError(string(models.ChannelPush), utils.ErrCodeProvider, nil)
	}
	var channelErr *utils.ChannelError
	if errors.As(err, &channelErr) {
		return err
	}
	channel := string(models.ChannelPush)
	switch {
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		return utils.NewTerminalError(channel, utils.ErrCodeInvalidToken, err)
	case messaging.IsInvalidArgument(err):
		return utils.NewTerminalError(channel, utils.ErrCodeInvalidToken, err)
	case messaging.IsThirdPartyAuthError(err):
		return utils.NewTerminalError(channel, utils.ErrCodeNotInitialized, err)
	case messaging.IsQuotaExceeded(err):
		return utils.NewTransientError(channel, utils.ErrCodeRateLimited, err)
	case messaging.IsUnavailable(err), messaging.IsInternal(err):
		return utils.NewTransientError(channel, utils.ErrCodeProvider, err)
	case errors.Is(err, context.DeadlineExceeded):
		return utils.NewTransientError(channel, utils.ErrCodeTimeout, err)
	default:
		return utils.NewTransientError(channel, utils.ErrCodeProvider, err)
	}
}
