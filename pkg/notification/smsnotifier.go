package notification

import (
	"fmt"
	"log/slog"
)

// SMSNotifier renders SMS notices and hands them to a gateway. The gateway
// integration is deployment-specific; the default logs and reports the
// message as undeliverable so misconfiguration is loud.
type SMSNotifier struct {
	gateway SMSGateway
}

// SMSGateway is the transport boundary for SMS delivery.
type SMSGateway interface {
	SendSMS(to, body string) error
}

func NewSMSNotifier(gateway SMSGateway) *SMSNotifier {
	return &SMSNotifier{gateway: gateway}
}

func (s *SMSNotifier) Send(noticeType NoticeType, notification NotificationData, tmpl Template) error {
	if notification.To == "" {
		return fmt.Errorf("sms notification requires 'To' number")
	}

	body, err := renderTemplate(tmpl.Text, notification.Data)
	if err != nil {
		return fmt.Errorf("failed to render %s template: %w", noticeType, err)
	}

	if s.gateway == nil {
		slog.Error("no sms gateway configured", "noticeType", noticeType, "to", notification.To)
		return fmt.Errorf("no sms gateway configured")
	}
	if err := s.gateway.SendSMS(notification.To, body); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}

	slog.Info("sms notice sent", "noticeType", noticeType, "to", notification.To)
	return nil
}
