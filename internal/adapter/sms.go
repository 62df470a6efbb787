package adapter

import (
	"context"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

// TwilioConfig holds the SMS gateway credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// SMSClient is the slice of the Twilio REST client the adapter needs.
type SMSClient interface {
	CreateMessage(params *twapi.CreateMessageParams) (*twapi.ApiV2010Message, error)
}

// Twilio error codes for recipients the provider cannot deliver to;
// retrying cannot fix these.
var twilioInvalidRecipientCodes = map[int]bool{
	21211: true, // invalid 'To' phone number
	21610: true, // recipient unsubscribed
	21614: true, // not a mobile number
}

type SMSAdapter struct {
	client SMSClient
	from   string
	logger *logger.Logger
}

func NewSMSAdapter(cfg TwilioConfig, log *logger.Logger) *SMSAdapter {
	a := &SMSAdapter{from: cfg.From, logger: log}
	if cfg.AccountSID != "" && cfg.AuthToken != "" && cfg.From != "" {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		a.client = rest.Api
	}
	return a
}

// NewSMSAdapterWithClient injects a client directly, for tests.
func NewSMSAdapterWithClient(client SMSClient, from string, log *logger.Logger) *SMSAdapter {
	return &SMSAdapter{client: client, from: from, logger: log}
}

func (a *SMSAdapter) Channel() model.Channel {
	return model.ChannelSMS
}

func (a *SMSAdapter) IsConfigured() bool {
	return a.client != nil && a.from != ""
}

func (a *SMSAdapter) Send(_ context.Context, p *model.NotificationPayload) error {
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

	params := &twapi.CreateMessageParams{}
	params.SetTo(p.Recipient)
	params.SetFrom(a.from)
	params.SetBody(body)

	if _, err := a.client.CreateMessage(params); err != nil {
		return a.classify(err)
	}
	return nil
}

func (a *SMSAdapter) classify(err error) error {
	var restErr *twclient.TwilioRestError
	if apperrors.As(err, &restErr) {
		if twilioInvalidRecipientCodes[restErr.Code] {
			return apperrors.NewInvalidRecipient(model.ChannelSMS.String(), "provider rejected recipient number", err)
		}
		if restErr.Status >= 400 && restErr.Status < 500 && restErr.Status != 429 {
			return apperrors.NewValidation(model.ChannelSMS.String(), restErr.Message)
		}
	}
	return apperrors.NewTransient(model.ChannelSMS.String(), err)
}

func looksLikePhone(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 7 || strings.Contains(s, "@") {
		return false
	}
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ' ' && r != '-' {
			return false
		}
	}
	return true
}
