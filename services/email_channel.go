package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"sort"
	"strings"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

var notificationEmailTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #2E7D32; color: white; padding: 20px; text-align: center; }
        .priority-high, .priority-critical { border-left: 4px solid #C62828; padding-left: 12px; }
        .content { padding: 20px; background: #f9f9f9; }
        .details td { padding: 4px 8px; }
        .footer { text-align: center; padding: 20px; color: #666; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Title}}</h1>
        </div>
        <div class="content priority-{{.Priority}}">
            <p>{{.Message}}</p>
            {{if .Details}}
            <table class="details">
                {{range .Details}}<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>{{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>You are receiving this because {{.Category}} notifications are enabled for your Farmora account.</p>
        </div>
    </div>
</body>
</html>`))

type emailDetail struct {
	Key   string
	Value string
}

type emailTemplateData struct {
	Title    string
	Message  string
	Priority models.NotificationPriority
	Category models.NotificationCategory
	Details  []emailDetail
}

type EmailChannel struct {
	sender EmailSender
}

var _ Channel = (*EmailChannel)(nil)

// NewEmailChannel creates the email adapter. A nil sender makes every send fail terminally.
func NewEmailChannel(sender EmailSender) *EmailChannel {
	return &EmailChannel{sender: sender}
}

func (ec *EmailChannel) Name() models.Channel {
	return models.ChannelEmail
}

func (ec *EmailChannel) Send(ctx context.Context, d *Delivery) error {
	channel := string(models.ChannelEmail)
	if ec.sender == nil {
		return utils.NewTerminalError(channel, utils.ErrCodeNotInitialized, fmt.Errorf("email sender is not configured"))
	}
	if _, err := mail.ParseAddress(d.Recipient.Email); err != nil || d.Recipient.Email == "" {
		return utils.NewTerminalError(channel, utils.ErrCodeInvalidRecipient, fmt.Errorf("invalid email address %q", utils.MaskEmail(d.Recipient.Email)))
	}

	msg, err := renderNotificationEmail(d)
	if err != nil {
		return utils.NewTerminalError(channel, utils.ErrCodeProvider, err)
	}

	messageID, err := ec.sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	d.ProviderMessageID = messageID
	return nil
}

func renderNotificationEmail(d *Delivery) (EmailMessage, error) {
	n := d.Notification
	data := emailTemplateData{
		Title:    d.Title,
		Message:  d.Message,
		Priority: n.Priority,
		Category: n.Category,
	}
	if n.Type != models.NotificationDailyDigest {
		for k, v := range n.Data {
			data.Details = append(data.Details, emailDetail{Key: k, Value: fmt.Sprint(v)})
		}
		sort.Slice(data.Details, func(i, j int) bool { return data.Details[i].Key < data.Details[j].Key })
	}

	var html bytes.Buffer
	if err := notificationEmailTemplate.Execute(&html, data); err != nil {
		return EmailMessage{}, fmt.Errorf("failed to render email template: %w", err)
	}

	var text strings.Builder
	text.WriteString(d.Message)
	for _, detail := range data.Details {
		fmt.Fprintf(&text, "\n%s: %s", detail.Key, detail.Value)
	}
	text.WriteString("\n\n- Farmora")

	return EmailMessage{
		To:       d.Recipient.Email,
		Subject:  emailSubject(n.Priority, d.Title),
		HTMLBody: html.String(),
		TextBody: text.String(),
		Tag:      string(n.Type),
	}, nil
}

func emailSubject(priority models.NotificationPriority, title string) string {
	if priority == models.PriorityCritical {
		return "[URGENT] " + title
	}
	return title
}
