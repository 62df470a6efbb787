package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
)

func whatsappPayload() *model.NotificationPayload {
	return &model.NotificationPayload{
		Recipient:     "+15551234567",
		Channel:       model.ChannelWhatsApp,
		Type:          "INVOICE_DUE",
		Group:         "BILLING",
		Data:          map[string]interface{}{"content": "Your invoice is due"},
		CorrelationID: "corr-4",
	}
}

func newTestWhatsAppAdapter(t *testing.T, handler http.HandlerFunc) (*WhatsAppAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewWhatsAppAdapter(WhatsAppConfig{
		BaseURL:       srv.URL,
		PhoneNumberID: "12345",
		AccessToken:   "token",
	}, testLogger()), srv
}

func TestWhatsAppSend(t *testing.T) {
	var got whatsappTextMessage
	a, _ := newTestWhatsAppAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := a.Send(context.Background(), whatsappPayload())
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "+15551234567", got.To)
	assert.Equal(t, "Your invoice is due", got.Text.Body)
}

func TestWhatsAppServerErrorIsTransient(t *testing.T) {
	a, _ := newTestWhatsAppAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := a.Send(context.Background(), whatsappPayload())
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}

func TestWhatsAppUndeliverableRecipient(t *testing.T) {
	a, _ := newTestWhatsAppAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "recipient not on whatsapp", "code": 131026},
		})
	})

	err := a.Send(context.Background(), whatsappPayload())
	assert.Equal(t, apperrors.KindInvalidRecipient, apperrors.KindOf(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestWhatsAppMissingContent(t *testing.T) {
	called := false
	a, _ := newTestWhatsAppAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	p := whatsappPayload()
	p.Data = nil

	err := a.Send(context.Background(), p)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.False(t, called, "no network call on missing content")
}

func TestWhatsAppNotConfigured(t *testing.T) {
	a := NewWhatsAppAdapter(WhatsAppConfig{}, testLogger())
	assert.False(t, a.IsConfigured())
}
