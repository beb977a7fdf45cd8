package realtime

// Frame type identifiers exchanged on the notification socket.
const (
	// client -> server
	FrameAuth = "auth"
	FramePing = "ping"

	// server -> client
	FrameAuthSuccess      = "auth_success"
	FrameNewNotification  = "new_notification"
	FrameNotificationRead = "notification_read"
	FramePong             = "pong"
)

// Frame is a single JSON message on the persistent connection. Type is always
// set; the remaining fields accompany specific frame types. The notification
// payload is opaque to the transport and passed through unmodified.
type Frame struct {
	Type         string `json:"type"`
	RecipientID  string `json:"recipient_id,omitempty"`
	Role         string `json:"role,omitempty"`
	Notification any    `json:"notification,omitempty"`
	Count        *int64 `json:"count,omitempty"`
}

// AuthFrame builds the client handshake frame.
func AuthFrame(recipientID, role string) Frame {
	return Frame{Type: FrameAuth, RecipientID: recipientID, Role: role}
}

// NewNotificationFrame builds a push frame for a freshly created notification.
// Count may be nil when the unread total was not available at publish time.
func NewNotificationFrame(notification any, count *int64) Frame {
	return Frame{Type: FrameNewNotification, Notification: notification, Count: count}
}

// CountFrame builds a count-only new_notification frame, used to refresh a
// badge without shipping the full record.
func CountFrame(count int64) Frame {
	return Frame{Type: FrameNewNotification, Count: &count}
}

// NotificationReadFrame signals that read state changed on another session.
func NotificationReadFrame() Frame {
	return Frame{Type: FrameNotificationRead}
}
