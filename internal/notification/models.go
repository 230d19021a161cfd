package notification

import "time"

// Severity drives how the admin console renders a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Stream event names.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
)

// TimestampLayout is ISO-8601 in UTC with fixed millisecond width, so
// timestamps order correctly as plain strings.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Notification is the unified view pushed to and polled by admin clients. It is
// rebuilt on every translation and never stored.
type Notification struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Read      *bool    `json:"read"`
}

// FormatTimestamp renders t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// handshake is the payload of the connected event.
type handshake struct {
	ConnectionID string `json:"connectionId"`
	ConnectedAt  string `json:"connectedAt"`
	Message      string `json:"message"`
}
