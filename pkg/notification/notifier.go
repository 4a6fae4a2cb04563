package notification

// Channel is a delivery channel (email, SMS).
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NoticeType identifies what is being communicated.
type NoticeType string

const (
	NoticePasscode            NoticeType = "passcode"
	NoticeLockout             NoticeType = "lockout"
	NoticeRecoveryRegenerated NoticeType = "recovery_codes_regenerated"
	NoticeSecurityAlert       NoticeType = "security_alert"
)

// NotificationData carries one outbound message.
type NotificationData struct {
	To   string            // recipient address for the channel (email address, phone number)
	Data map[string]string // template values
}

// Template holds the renderable parts of a notice for one channel.
type Template struct {
	Subject string
	Text    string
}

// Notifier delivers a rendered notice over one channel.
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template Template) error
}
