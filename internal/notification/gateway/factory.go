// internal/notification/gateway/factory.go
package gateway

import (
	"context"
	"fmt"

	awsclients "memotag-notifier/internal/common/aws"
	"memotag-notifier/internal/common/config"
)

const (
	ProviderSES  = "ses"
	ProviderSMTP = "smtp"
)

// New builds the configured gateway. It returns a nil Sender and no error
// when no provider is configured; callers treat that as unconfigured.
func New(ctx context.Context, cfg config.NotificationConfig) (Sender, error) {
	var email Sender

	switch cfg.Provider {
	case "":
		return nil, nil
	case ProviderSES:
		client, err := awsclients.NewSESClient(ctx, cfg.SES.Region)
		if err != nil {
			return nil, fmt.Errorf("init ses gateway: %w", err)
		}
		email = NewSESSender(client, cfg.FromEmail)
	case ProviderSMTP:
		dialer := NewSMTPDialer(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			UseTLS:   cfg.SMTP.UseTLS,
			Timeout:  config.GetDuration(cfg.SendTimeout),
		})
		email = NewSMTPSender(dialer, cfg.FromEmail)
	default:
		return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
	}

	if !cfg.SMS.Enabled {
		return email, nil
	}

	region := cfg.SMS.Region
	if region == "" {
		region = cfg.SES.Region
	}
	snsClient, err := awsclients.NewSNSClient(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("init sms gateway: %w", err)
	}
	return &Router{Email: email, SMS: NewSNSSender(snsClient)}, nil
}
