package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

type fakeMailSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(nil)
}

func emailPayload(data map[string]interface{}) *model.NotificationPayload {
	return &model.NotificationPayload{
		Recipient:     "user@example.com",
		Channel:       model.ChannelEmail,
		Type:          "INVOICE_DUE",
		Group:         "BILLING",
		Data:          data,
		CorrelationID: "corr-1",
		Subject:       "Invoice due",
	}
}

func TestEmailContentFallback(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{"content wins", map[string]interface{}{"content": "C", "html": "H", "message": "M"}, "C"},
		{"html when content empty", map[string]interface{}{"content": "", "html": "X"}, "X"},
		{"message when content and html empty", map[string]interface{}{"content": "", "message": "Y"}, "Y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeMailSender{}
			a := NewEmailAdapterWithSender(sender, "noreply@edusphere.io", testLogger())

			err := a.Send(context.Background(), emailPayload(tt.data))
			require.NoError(t, err)
			require.Len(t, sender.sent, 1)
		})
	}
}

func TestEmailMissingContentFailsBeforeSend(t *testing.T) {
	sender := &fakeMailSender{}
	a := NewEmailAdapterWithSender(sender, "noreply@edusphere.io", testLogger())

	err := a.Send(context.Background(), emailPayload(map[string]interface{}{
		"content": "", "html": "", "message": "",
	}))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, sender.sent, "no SDK call on missing content")
}

func TestEmailMalformedRecipient(t *testing.T) {
	sender := &fakeMailSender{}
	a := NewEmailAdapterWithSender(sender, "noreply@edusphere.io", testLogger())

	p := emailPayload(map[string]interface{}{"content": "hi"})
	p.Recipient = "not-an-email"

	err := a.Send(context.Background(), p)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, sender.sent)
}

func TestEmailProviderErrorIsTransient(t *testing.T) {
	sender := &fakeMailSender{err: errors.New("dial tcp: connection refused")}
	a := NewEmailAdapterWithSender(sender, "noreply@edusphere.io", testLogger())

	err := a.Send(context.Background(), emailPayload(map[string]interface{}{"content": "hi"}))
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestEmailNotConfigured(t *testing.T) {
	a := NewEmailAdapter(SMTPConfig{}, testLogger())
	assert.False(t, a.IsConfigured())
}
