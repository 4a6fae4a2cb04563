package notification

import "sync"

// SentNotice is one message captured by the mock.
type SentNotice struct {
	NoticeType NoticeType
	To         string
	Data       map[string]string
	Template   Template
}

// MockNotifier records notices instead of delivering them. Tests inspect
// Sent to assert on delivery without any transport.
type MockNotifier struct {
	mu   sync.Mutex
	sent []SentNotice
	// Err, when set, is returned from Send to simulate delivery failure.
	Err error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, tmpl Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentNotice{
		NoticeType: noticeType,
		To:         notification.To,
		Data:       notification.Data,
		Template:   tmpl,
	})
	return nil
}

// Sent returns a copy of everything captured so far.
func (m *MockNotifier) Sent() []SentNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotice, len(m.sent))
	copy(out, m.sent)
	return out
}
