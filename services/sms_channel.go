// services/sms_channel.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	smsMaxLength = 160
	smsSignature = " - Farmora"
)

// Twilio error codes that will not succeed on retry.
var twilioTerminalCodes = map[int]string{
	21211: utils.ErrCodeInvalidRecipient, // invalid 'To' number
	21214: utils.ErrCodeInvalidRecipient, // 'To' number cannot be reached
	21408: utils.ErrCodeInvalidRecipient, // region not enabled
	21610: utils.ErrCodeOptedOut,         // recipient unsubscribed
	21614: utils.ErrCodeInvalidRecipient, // not a mobile number
	21606: utils.ErrCodeNotInitialized,   // 'From' number not SMS capable
	20003: utils.ErrCodeNotInitialized,   // authentication failed
}

// TwilioClient is the subset of the Twilio messages API used for SMS.
type TwilioClient interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type SMSChannel struct {
	client TwilioClient
	from   string
}

var _ Channel = (*SMSChannel)(nil)

// NewSMSChannel creates the SMS adapter. A nil client makes every send fail terminally.
func NewSMSChannel(client TwilioClient, from string) *SMSChannel {
	return &SMSChannel{client: client, from: from}
}

func (sc *SMSChannel) Name() models.Channel {
	return models.ChannelSMS
}

func (sc *SMSChannel) Send(ctx context.Context, d *Delivery) error {
	channel := string(models.ChannelSMS)
	if sc.client == nil || sc.from == "" {
		return utils.NewTerminalError(channel, utils.ErrCodeNotInitialized, fmt.Errorf("twilio is not configured"))
	}
	if !utils.ValidatePhone(d.Recipient.Phone) {
		return utils.NewTerminalError(channel, utils.ErrCodeInvalidRecipient,
			fmt.Errorf("invalid phone number %s", utils.MaskPhoneNumber(d.Recipient.Phone)))
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(d.Recipient.Phone)
	params.SetFrom(sc.from)
	params.SetBody(formatSMSContent(d))

	var resp *twilioApi.ApiV2010Message
	err := callWithContext(ctx, models.ChannelSMS, func() error {
		var sendErr error
		resp, sendErr = sc.client.CreateMessage(params)
		return sendErr
	})
	if err != nil {
		return classifyTwilioError(err)
	}
	if resp != nil && resp.Sid != nil {
		d.ProviderMessageID = *resp.Sid
	}
	return nil
}

// formatSMSContent fits title and message into a single SMS segment.
func formatSMSContent(d *Delivery) string {
	content := fmt.Sprintf("%s: %s", d.Title, d.Message)

	// Add priority indicator for urgent notifications
	if d.Notification.Priority == models.PriorityHigh || d.Notification.Priority == models.PriorityCritical {
		content = "URGENT " + content
	}

	return utils.TruncateString(content, smsMaxLength-len(smsSignature)) + smsSignature
}

func classifyTwilioError(err error) error {
	var channelErr *utils.ChannelError
	if errors.As(err, &channelErr) {
		return err
	}
	channel := string(models.ChannelSMS)

	var restErr *twilioClient.TwilioRestError
	if !errors.As(err, &restErr) {
		return utils.NewTransientError(channel, utils.ErrCodeProvider, err)
	}
	if code, ok := twilioTerminalCodes[restErr.Code]; ok {
		return utils.NewTerminalError(channel, code, err)
	}
	switch {
	case restErr.Status == http.StatusTooManyRequests:
		return utils.NewTransientError(channel, utils.ErrCodeRateLimited, err)
	case restErr.Status == http.StatusUnauthorized || restErr.Status == http.StatusForbidden:
		return utils.NewTerminalError(channel, utils.ErrCodeNotInitialized, err)
	case restErr.Status >= 400 && restErr.Status < 500:
		return utils.NewTerminalError(channel, utils.ErrCodeProvider, err)
	default:
		return utils.NewTransientError(channel, utils.ErrCodeProvider, err)
	}
}
