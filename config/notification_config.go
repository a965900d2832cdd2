package config

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/Thenameisdebojit/farmora-sub001/services"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	"google.golang.org/api/option"
)

// RetryPolicy builds the channel retry policy from configuration.
func (c *Config) RetryPolicy() *services.RetryPolicy {
	policy := services.DefaultRetryPolicy()
	if c.RetryMaxAttempts > 0 {
		policy.MaxAttempts = c.RetryMaxAttempts
	}
	if c.RetryBaseDelay > 0 {
		policy.InitialInterval = c.RetryBaseDelay
	}
	if c.ChannelTimeout > 0 {
		policy.AttemptTimeout = c.ChannelTimeout
	}
	return policy
}

// InitChannels builds the four delivery channels. A provider that is not
// configured still gets its channel, which then fails every send terminally.
func (c *Config) InitChannels(ctx context.Context, sessions services.SessionRegistry) ([]services.Channel, error) {
	var fcm services.FCMClient
	if c.FirebaseCredentialsPath != "" {
		app, err := initializeFirebase(ctx, c.FirebaseCredentialsPath)
		if err != nil {
			return nil, err
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get FCM client: %w", err)
		}
		fcm = client
	} else {
		logrus.Warn("FIREBASE_CREDENTIALS_PATH not set, push notifications are disabled")
	}

	var sms services.TwilioClient
	if c.TwilioAccountSID != "" && c.TwilioAuthToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: c.TwilioAccountSID,
			Password: c.TwilioAuthToken,
		})
		sms = client.Api
	} else {
		logrus.Warn("Twilio credentials not set, SMS notifications are disabled")
	}

	sender, err := c.initEmailSender()
	if err != nil {
		return nil, err
	}

	return []services.Channel{
		services.NewPushChannel(fcm),
		services.NewEmailChannel(sender),
		services.NewSMSChannel(sms, c.TwilioPhoneNumber),
		services.NewInAppChannel(sessions),
	}, nil
}

func (c *Config) initEmailSender() (services.EmailSender, error) {
	switch c.EmailProvider {
	case "postmark":
		sender, err := services.NewPostmarkEmailSender(c.PostmarkServerToken, c.PostmarkAccountToken, c.FromEmail, "")
		if err != nil {
			return nil, fmt.Errorf("failed to configure postmark: %w", err)
		}
		return sender, nil
	case "smtp":
		if c.SMTPUsername == "" || c.SMTPPassword == "" {
			if c.IsProduction() {
				logrus.Warn("SMTP credentials not configured, email notifications are disabled")
				return nil, nil
			}
			logrus.Warn("SMTP credentials not configured, logging emails instead")
			return services.NewLogEmailSender(), nil
		}
		return services.NewSMTPEmailSender(c.SMTPHost, c.SMTPPort, c.SMTPUsername, c.SMTPPassword, c.FromEmail, c.FromName), nil
	case "log":
		return services.NewLogEmailSender(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}
}

func initializeFirebase(ctx context.Context, credentialsPath string) (*firebase.App, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase: %w", err)
	}
	return app, nil
}
