// services/email_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/mrz1836/postmark"
	"github.com/sirupsen/logrus"
)

// EmailMessage is one rendered email.
type EmailMessage struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"htmlBody"`
	TextBody string `json:"textBody"`
	Tag      string `json:"tag,omitempty"`
}

// EmailSender hands a rendered email to a provider and returns its message id.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// SMTPEmailSender implements EmailSender using SMTP
type SMTPEmailSender struct {
	host     string
	port     string
	username string
	password string
	from     string
	fromName string
}

func NewSMTPEmailSender(host, port, username, password, from, fromName string) *SMTPEmailSender {
	return &SMTPEmailSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
	}
}

func (es *SMTPEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", utils.GenerateUUID(), es.host)
	body := es.buildMessage(msg, messageID)

	var auth smtp.Auth
	if es.username != "" {
		auth = smtp.PlainAuth("", es.username, es.password, es.host)
	}
	addr := net.JoinHostPort(es.host, es.port)

	err := callWithContext(ctx, models.ChannelEmail, func() error {
		return smtp.SendMail(addr, auth, es.from, []string{msg.To}, []byte(body))
	})
	if err != nil {
		return "", classifySMTPError(err)
	}

	return messageID, nil
}

// buildMessage creates the full multipart email message
func (es *SMTPEmailSender) buildMessage(msg EmailMessage, messageID string) string {
	boundary := "boundary-farmora-notification"
	from := (&mail.Address{Name: headerText(es.fromName), Address: es.from}).String()

	return fmt.Sprintf(`From: %s
To: %s
Subject: %s
Message-ID: %s
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="%s"

--%s
Content-Type: text/plain; charset=UTF-8

%s

--%s
Content-Type: text/html; charset=UTF-8

%s

--%s--`, from, headerText(msg.To), mime.QEncoding.Encode("utf-8", headerText(msg.Subject)), messageID, boundary, boundary, msg.TextBody, boundary, msg.HTMLBody, boundary)
}

// headerText drops line breaks so a value cannot start a new header.
func headerText(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// classifySMTPError treats permanent 5xx replies as terminal and everything else as transient.
func classifySMTPError(err error) error {
	var channelErr *utils.ChannelError
	if errors.As(err, &channelErr) {
		return err
	}
	channel := string(models.ChannelEmail)

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 535 || protoErr.Code == 530:
			return utils.NewTerminalError(channel, utils.ErrCodeNotInitialized, err)
		case protoErr.Code >= 550 && protoErr.Code <= 553:
			return utils.NewTerminalError(channel, utils.ErrCodeInvalidRecipient, err)
		case protoErr.Code >= 500:
			return utils.NewTerminalError(channel, utils.ErrCodeProvider, err)
		}
		return utils.NewTransientError(channel, utils.ErrCodeProvider, err)
	}
	return utils.NewTransientError(channel, utils.ErrCodeProvider, err)
}

// PostmarkEmailSender implements EmailSender using Postmark's transactional API.
type PostmarkEmailSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// Postmark API error codes that will not succeed on retry.
const (
	postmarkInvalidRequest    = 300
	postmarkInactiveRecipient = 406
	postmarkSenderNotVerified = 400
	postmarkInvalidToken      = 10
)

func NewPostmarkEmailSender(serverToken, accountToken, from, replyTo string) (*PostmarkEmailSender, error) {
	if serverToken == "" {
		return nil, errors.New("postmark server token is required")
	}
	if from == "" {
		return nil, errors.New("postmark sender email is required")
	}

	return &PostmarkEmailSender{
		client:  postmark.NewClient(serverToken, accountToken),
		from:    from,
		replyTo: replyTo,
	}, nil
}

func (ps *PostmarkEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	channel := string(models.ChannelEmail)

	resp, err := ps.client.SendEmail(ctx, postmark.Email{
		From:       ps.from,
		ReplyTo:    ps.replyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", utils.NewTransientError(channel, utils.ErrCodeTimeout, err)
		}
		return "", utils.NewTransientError(channel, utils.ErrCodeProvider, err)
	}
	if resp.ErrorCode > 0 {
		perr := fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
		switch resp.ErrorCode {
		case postmarkInvalidRequest, postmarkInactiveRecipient:
			return "", utils.NewTerminalError(channel, utils.ErrCodeInvalidRecipient, perr)
		case postmarkSenderNotVerified, postmarkInvalidToken:
			return "", utils.NewTerminalError(channel, utils.ErrCodeNotInitialized, perr)
		default:
			return "", utils.NewTransientError(channel, utils.ErrCodeProvider, perr)
		}
	}

	return resp.MessageID, nil
}

// LogEmailSender logs emails instead of sending them. Used in development.
type LogEmailSender struct{}

func NewLogEmailSender() *LogEmailSender {
	return &LogEmailSender{}
}

func (ls *LogEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	logrus.WithFields(logrus.Fields{
		"to":      utils.MaskEmail(msg.To),
		"subject": msg.Subject,
		"tag":     msg.Tag,
	}).Info("[MOCK EMAIL] notification email")
	return "log-" + strings.ReplaceAll(utils.GenerateUUID(), "-", ""), nil
}
