package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// WhatsAppConfig holds the Meta WhatsApp Business Cloud API credentials.
type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
}

// Graph error codes for recipients the API cannot deliver to.
var whatsappInvalidRecipientCodes = map[int]bool{
	131026: true, // message undeliverable / recipient not on WhatsApp
	131030: true, // recipient not in allowed list
}

type WhatsAppAdapter struct {
	httpClient    *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
	logger        *logger.Logger
}

func NewWhatsAppAdapter(cfg WhatsAppConfig, log *logger.Logger) *WhatsAppAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGraphBaseURL
	}
	return &WhatsAppAdapter{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       base,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		logger:        log,
	}
}

func (a *WhatsAppAdapter) Channel() model.Channel {
	return model.ChannelWhatsApp
}

func (a *WhatsAppAdapter) IsConfigured() bool {
	return a.phoneNumberID != "" && a.accessToken != ""
}

type whatsappTextMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsappText `json:"text"`
}

type whatsappText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type graphErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (a *WhatsAppAdapter) Send(ctx context.Context, p *model.NotificationPayload) error {
	if p.RecipientKind != "" && p.RecipientKind != model.RecipientKindPhone {
		return apperrors.NewValidation(p.Channel.String(), "recipient is not a phone number")
	}
	if !looksLikePhone(p.Recipient) {
		return apperrors.NewValidation(p.Channel.String(), "recipient is not a phone number")
	}

	body := p.Body()
	if body == "" {
		return apperrors.NewMissingContent(p.Channel.String(), "content")
	}

	msg := whatsappTextMessage{
		MessagingProduct: "whatsapp",
		To:               p.Recipient,
		Type:             "text",
		Text:             whatsappText{Body: body},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return apperrors.NewValidation(p.Channel.String(), fmt.Sprintf("failed to encode message: %v", err))
	}

	url := fmt.Sprintf("%s/%s/messages", a.baseURL, a.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return apperrors.NewTransient(p.Channel.String(), err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransient(p.Channel.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return a.classify(resp)
}

func (a *WhatsAppAdapter) classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var graphErr graphErrorResponse
	_ = json.Unmarshal(raw, &graphErr)
	cause := fmt.Errorf("graph API %d: %s", resp.StatusCode, graphErr.Error.Message)

	switch {
	case whatsappInvalidRecipientCodes[graphErr.Error.Code]:
		return apperrors.NewInvalidRecipient(model.ChannelWhatsApp.String(), "provider rejected recipient number", cause)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.NewTransient(model.ChannelWhatsApp.String(), cause)
	default:
		return apperrors.NewValidation(model.ChannelWhatsApp.String(), cause.Error())
	}
}
