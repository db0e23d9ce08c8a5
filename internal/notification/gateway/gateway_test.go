package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mail.v2"

	"memotag-notifier/internal/common/config"
	"memotag-notifier/internal/models"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type MockDialer struct {
	DialAndSendFunc func(m ...*mail.Message) error
}

func (m *MockDialer) DialAndSend(msgs ...*mail.Message) error {
	return m.DialAndSendFunc(msgs...)
}

type recordingSender struct {
	calls []string
}

func (r *recordingSender) Send(_ context.Context, to, _, _ string) error {
	r.calls = append(r.calls, to)
	return nil
}

func createTestItem() *models.Item {
	return &models.Item{ItemID: "drill_c", Name: "Drill C", UserEmail: "a@x.com"}
}

// ==========================
// SES
// ==========================

func TestSESSender_Send(t *testing.T) {
	var captured *ses.SendEmailInput
	mockSES := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			captured = params
			return &ses.SendEmailOutput{}, nil
		},
	}

	sender := NewSESSender(mockSES, "noreply@memotag.digital")
	err := sender.Send(context.Background(), "a@x.com", "subject", "<p>hello</p>")
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, []string{"a@x.com"}, captured.Destination.ToAddresses)
	assert.Equal(t, "noreply@memotag.digital", *captured.Source)
	assert.Equal(t, "subject", *captured.Message.Subject.Data)
	assert.Equal(t, "<p>hello</p>", *captured.Message.Body.Html.Data)
	assert.Equal(t, "hello", *captured.Message.Body.Text.Data)
	assert.Equal(t, "UTF-8", *captured.Message.Subject.Charset)
}

func TestSESSender_SendError(t *testing.T) {
	mockSES := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("MessageRejected")
		},
	}

	err := NewSESSender(mockSES, "noreply@memotag.digital").Send(context.Background(), "bad", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MessageRejected")
	assert.Contains(t, err.Error(), "bad")
}

// ==========================
// SMTP
// ==========================

func TestSMTPSender_Send(t *testing.T) {
	var sent []*mail.Message
	dialer := &MockDialer{DialAndSendFunc: func(m ...*mail.Message) error {
		sent = append(sent, m...)
		return nil
	}}

	err := NewSMTPSender(dialer, "noreply@memotag.digital").Send(context.Background(), "a@x.com", "件名", "<p>本文</p>")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"a@x.com"}, sent[0].GetHeader("To"))
	assert.Equal(t, []string{"noreply@memotag.digital"}, sent[0].GetHeader("From"))
}

func TestSMTPSender_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	dialer := &MockDialer{DialAndSendFunc: func(m ...*mail.Message) error {
		<-release
		return nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewSMTPSender(dialer, "noreply@memotag.digital").Send(ctx, "a@x.com", "s", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSMTPDialer_AlwaysBoundsOperations(t *testing.T) {
	d := NewSMTPDialer(SMTPConfig{Host: "localhost", Port: 1025})
	assert.Equal(t, 10*time.Second, d.Timeout)

	d = NewSMTPDialer(SMTPConfig{Host: "localhost", Port: 1025, Timeout: 3 * time.Second, UseTLS: true})
	assert.Equal(t, 3*time.Second, d.Timeout)
	assert.Equal(t, mail.MandatoryStartTLS, d.StartTLSPolicy)
}

// ==========================
// SNS and routing
// ==========================

func TestSNSSender_Send(t *testing.T) {
	var captured *sns.PublishInput
	mockSNS := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{}, nil
		},
	}

	long := strings.Repeat("あ", 1000)
	err := NewSNSSender(mockSNS).Send(context.Background(), "+819012345678", "subject", "<p>"+long+"</p>")
	require.NoError(t, err)
	assert.Equal(t, "+819012345678", *captured.PhoneNumber)
	assert.True(t, strings.HasPrefix(*captured.Message, "subject\n"))
	assert.LessOrEqual(t, len([]rune(*captured.Message)), maxSMSLength)
}

func TestRouter_Send(t *testing.T) {
	email := &recordingSender{}
	sms := &recordingSender{}
	r := &Router{Email: email, SMS: sms}

	for _, to := range []string{"a@x.com", "+819012345678", "090-1234-5678"} {
		require.NoError(t, r.Send(context.Background(), to, "s", "b"))
	}

	assert.Equal(t, []string{"a@x.com", "090-1234-5678"}, email.calls)
	assert.Equal(t, []string{"+819012345678"}, sms.calls)
}

func TestRouter_NoSMSFallsBackToEmail(t *testing.T) {
	email := &recordingSender{}
	r := &Router{Email: email}

	require.NoError(t, r.Send(context.Background(), "+819012345678", "s", "b"))
	assert.Equal(t, []string{"+819012345678"}, email.calls)
}

// ==========================
// Composer
// ==========================

func TestComposer_Compose(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	c := NewComposer("https://memotag.digital/", tokyo)
	msg := models.Message{
		ItemID:    "drill_c",
		Body:      "<script>alert(1)</script> 刃が欠けています",
		Author:    "",
		CreatedAt: time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC),
	}

	subject, body, err := c.Compose(createTestItem(), msg)
	require.NoError(t, err)

	assert.Equal(t, "🔔 新規メッセージ通知: Drill C", subject)
	assert.Contains(t, body, "2026年03月01日 09:30")
	assert.Contains(t, body, models.AnonymousAuthor)
	assert.Contains(t, body, `href="https://memotag.digital/memo/drill_c"`)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestComposer_FallsBackToItemID(t *testing.T) {
	c := NewComposer("https://memotag.digital", nil)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC) }

	subject, body, err := c.Compose(&models.Item{ItemID: "drill_c"}, models.Message{Body: "x", Author: "Yuki"})
	require.NoError(t, err)
	assert.Equal(t, "🔔 新規メッセージ通知: drill_c", subject)
	assert.Contains(t, body, "2026年01月02日 03:04")
}

func TestPlainText(t *testing.T) {
	text := PlainText("<h2>Title</h2><table><tr><td>a</td><td>b</td></tr></table><p>line</p>")
	assert.Equal(t, "Title\na b\nline", text)
}

// ==========================
// Factory
// ==========================

func TestNew_Unconfigured(t *testing.T) {
	sender, err := New(context.Background(), config.NotificationConfig{})
	require.NoError(t, err)
	assert.Nil(t, sender)
}

func TestNew_SMTP(t *testing.T) {
	cfg := config.NotificationConfig{Provider: ProviderSMTP, FromEmail: "noreply@memotag.digital"}
	cfg.SMTP.Host = "localhost"
	cfg.SMTP.Port = 1025

	sender, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, sender)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.NotificationConfig{Provider: "fax"})
	require.Error(t, err)
}
