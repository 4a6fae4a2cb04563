package notification

import (
	"fmt"
	"log/slog"
)

// Manager routes notices to the notifier registered for each channel. A
// delivery failure is an operational problem, never a verification outcome;
// callers log it and surface a retryable error to the user.
type Manager struct {
	notifiers map[Channel]Notifier
	templates map[NoticeType]map[Channel]Template
}

func NewManager() *Manager {
	return &Manager{
		notifiers: make(map[Channel]Notifier),
		templates: make(map[NoticeType]map[Channel]Template),
	}
}

// RegisterNotifier registers a notifier for a channel.
func (m *Manager) RegisterNotifier(channel Channel, notifier Notifier) {
	m.notifiers[channel] = notifier
}

// RegisterTemplate adds or replaces the template for a notice type on a
// channel.
func (m *Manager) RegisterTemplate(noticeType NoticeType, channel Channel, template Template) error {
	if noticeType == "" || channel == "" {
		return fmt.Errorf("invalid input: notice type and channel cannot be empty")
	}
	if _, exists := m.templates[noticeType]; !exists {
		m.templates[noticeType] = make(map[Channel]Template)
	}
	m.templates[noticeType][channel] = template
	return nil
}

// Send renders and delivers a notice over the given channel.
func (m *Manager) Send(noticeType NoticeType, channel Channel, notification NotificationData) error {
	channelTemplates, exists := m.templates[noticeType]
	if !exists {
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}
	template, exists := channelTemplates[channel]
	if !exists {
		return fmt.Errorf("no template registered for channel: %s under notice type: %s", channel, noticeType)
	}
	notifier, exists := m.notifiers[channel]
	if !exists {
		return fmt.Errorf("no notifier registered for channel: %s", channel)
	}

	if err := notifier.Send(noticeType, notification, template); err != nil {
		slog.Error("notification delivery failed", "noticeType", noticeType, "channel", channel, "err", err)
		return fmt.Errorf("failed to deliver %s notice: %w", noticeType, err)
	}
	return nil
}

// DefaultTemplates registers the built-in notice templates for both
// channels.
func (m *Manager) DefaultTemplates() error {
	templates := []struct {
		noticeType NoticeType
		channel    Channel
		template   Template
	}{
		{NoticePasscode, ChannelEmail, Template{
			Subject: "Your verification code",
			Text:    "Your verification code is {{.code}}. It expires in {{.expires_minutes}} minutes.",
		}},
		{NoticePasscode, ChannelSMS, Template{
			Text: "{{.code}} is your verification code.",
		}},
		{NoticeLockout, ChannelEmail, Template{
			Subject: "Account temporarily locked",
			Text:    "Too many failed verification attempts. Your account is locked until {{.until}}.",
		}},
		{NoticeRecoveryRegenerated, ChannelEmail, Template{
			Subject: "Recovery codes regenerated",
			Text:    "A new set of recovery codes was generated for your account. The previous codes no longer work.",
		}},
		{NoticeSecurityAlert, ChannelEmail, Template{
			Subject: "Security alert",
			Text:    "{{.message}}",
		}},
	}
	for _, t := range templates {
		if err := m.RegisterTemplate(t.noticeType, t.channel, t.template); err != nil {
			return err
		}
	}
	return nil
}
