package notification

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRoutesToRegisteredNotifier(t *testing.T) {
	manager := NewManager()
	require.NoError(t, manager.DefaultTemplates())

	mock := NewMockNotifier()
	manager.RegisterNotifier(ChannelEmail, mock)

	err := manager.Send(NoticePasscode, ChannelEmail, NotificationData{
		To:   "alice@example.com",
		Data: map[string]string{"code": "123456", "expires_minutes": "5"},
	})
	require.NoError(t, err)

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NoticePasscode, sent[0].NoticeType)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, "123456", sent[0].Data["code"])
}

func TestSendUnknownNoticeType(t *testing.T) {
	manager := NewManager()
	manager.RegisterNotifier(ChannelEmail, NewMockNotifier())

	err := manager.Send(NoticeType("unknown"), ChannelEmail, NotificationData{To: "a@b.c"})
	assert.Error(t, err)
}

func TestSendMissingNotifier(t *testing.T) {
	manager := NewManager()
	require.NoError(t, manager.DefaultTemplates())

	err := manager.Send(NoticePasscode, ChannelSMS, NotificationData{To: "+15551234567"})
	assert.Error(t, err)
}

func TestSendWrapsDeliveryFailure(t *testing.T) {
	manager := NewManager()
	require.NoError(t, manager.DefaultTemplates())

	mock := NewMockNotifier()
	mock.Err = errors.New("smtp unreachable")
	manager.RegisterNotifier(ChannelEmail, mock)

	err := manager.Send(NoticePasscode, ChannelEmail, NotificationData{To: "a@b.c"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "smtp unreachable")
}

func TestSMSNotifierRendersTemplate(t *testing.T) {
	captured := &captureGateway{}
	notifier := NewSMSNotifier(captured)

	err := notifier.Send(NoticePasscode, NotificationData{
		To:   "+15551234567",
		Data: map[string]string{"code": "654321"},
	}, Template{Text: "{{.code}} is your verification code."})
	require.NoError(t, err)
	assert.Equal(t, "654321 is your verification code.", captured.body)
	assert.Equal(t, "+15551234567", captured.to)
}

type captureGateway struct {
	to   string
	body string
}

func (g *captureGateway) SendSMS(to, body string) error {
	g.to = to
	g.body = body
	return nil
}
