// internal/notification/gateway/sns.go
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// maxSMSLength keeps a message within a few SMS segments.
const maxSMSLength = 480

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers a text rendition of the notification as SMS.
type SNSSender struct {
	client SNSAPI
}

func NewSNSSender(client SNSAPI) *SNSSender {
	return &SNSSender{client: client}
}

func (s *SNSSender) Send(ctx context.Context, to, subject, body string) error {
	text := subject + "\n" + PlainText(body)
	if r := []rune(text); len(r) > maxSMSLength {
		text = strings.TrimSpace(string(r[:maxSMSLength-1])) + "…"
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(text),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", to, err)
	}
	return nil
}
