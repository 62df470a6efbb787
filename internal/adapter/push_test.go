package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	fcm "firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/messaging"
)

type fakePushClient struct {
	sent []*fcm.Message
	err  error
}

func (f *fakePushClient) Send(_ context.Context, m *fcm.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "projects/test/messages/1", nil
}

type recordingPublisher struct {
	topics   []string
	messages []interface{}
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	r.topics = append(r.topics, channel)
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingPublisher) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (r *recordingPublisher) Close() error { return nil }

func validToken() string {
	return strings.Repeat("d", 152)
}

func pushPayload(recipient string) *model.NotificationPayload {
	return &model.NotificationPayload{
		Recipient:     recipient,
		Channel:       model.ChannelPush,
		Type:          "CLASS_REMINDER",
		Group:         "CLASSES",
		Title:         "Class starts soon",
		Data:          map[string]interface{}{"content": "Math starts in 10 minutes", "deepLink": "app://class/42"},
		CorrelationID: "corr-3",
	}
}

func TestPushSend(t *testing.T) {
	client := &fakePushClient{}
	a := NewPushAdapter(client, &recordingPublisher{}, testLogger())

	err := a.Send(context.Background(), pushPayload(validToken()))
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "Class starts soon", client.sent[0].Notification.Title)
	assert.Equal(t, "app://class/42", client.sent[0].Data["deepLink"])
}

func TestPushEmailShapedRecipientSkipsProvider(t *testing.T) {
	client := &fakePushClient{}
	a := NewPushAdapter(client, &recordingPublisher{}, testLogger())

	err := a.Send(context.Background(), pushPayload("teacher@school.example"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.False(t, apperrors.IsRetryable(err), "malformed recipient must not be retried")
	assert.Empty(t, client.sent, "FCM never invoked")
}

func TestPushShortRecipientSkipsProvider(t *testing.T) {
	client := &fakePushClient{}
	a := NewPushAdapter(client, &recordingPublisher{}, testLogger())

	err := a.Send(context.Background(), pushPayload("short-token"))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, client.sent)
}

func TestPushRecipientKindOverridesHeuristic(t *testing.T) {
	client := &fakePushClient{}
	a := NewPushAdapter(client, &recordingPublisher{}, testLogger())

	// Shorter than the heuristic minimum, but explicitly tagged.
	p := pushPayload("tagged-but-short-token")
	p.RecipientKind = model.RecipientKindDeviceToken

	err := a.Send(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, client.sent, 1)
}

func TestPushMissingTitle(t *testing.T) {
	client := &fakePushClient{}
	a := NewPushAdapter(client, &recordingPublisher{}, testLogger())

	p := pushPayload(validToken())
	p.Title = ""

	err := a.Send(context.Background(), p)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, client.sent)
}

func TestPushDeadTokenEmitsInvalidatedEvent(t *testing.T) {
	client := &fakePushClient{err: errors.New("requested entity was not found")}
	pub := &recordingPublisher{}
	a := NewPushAdapter(client, pub, testLogger())
	a.tokenRejected = func(error) bool { return true }

	err := a.Send(context.Background(), pushPayload(validToken()))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidRecipient, apperrors.KindOf(err))
	assert.False(t, apperrors.IsRetryable(err), "dead token must not be retried")

	require.Len(t, pub.topics, 1)
	assert.Equal(t, messaging.TopicTokenInvalidated, pub.topics[0])
	event, ok := pub.messages[0].(*model.TokenInvalidatedEvent)
	require.True(t, ok)
	assert.Equal(t, validToken(), event.Token)
	assert.Equal(t, "corr-3", event.CorrelationID)
}

func TestPushProviderErrorWithLiveTokenIsTransient(t *testing.T) {
	client := &fakePushClient{err: errors.New("internal error")}
	pub := &recordingPublisher{}
	a := NewPushAdapter(client, pub, testLogger())

	err := a.Send(context.Background(), pushPayload(validToken()))
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
	assert.Empty(t, pub.topics, "no invalidation event for a retryable failure")
}

func TestPushNotConfigured(t *testing.T) {
	a := NewPushAdapter(nil, &recordingPublisher{}, testLogger())
	assert.False(t, a.IsConfigured())
}
