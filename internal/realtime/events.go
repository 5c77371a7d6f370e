package realtime

import "time"

// EventReceiveNotification is the single server-to-client event carried over
// the notification channel.
const EventReceiveNotification = "ReceiveNotification"

// Event is the JSON envelope written to notification channel clients.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// NotificationPayload is the wire shape of a delivered notification.
type NotificationPayload struct {
	NotificationID    int64      `json:"notificationId"`
	UserID            int64      `json:"userId"`
	Title             string     `json:"title"`
	Message           string     `json:"message"`
	SentDate          time.Time  `json:"sentDate"`
	NotificationType  string     `json:"notificationType"`
	Priority          string     `json:"priority"`
	Status            string     `json:"status"`
	RelatedEntityType *string    `json:"relatedEntityType,omitempty"`
	RelatedEntityID   *int64     `json:"relatedEntityId,omitempty"`
	ExpiryDate        *time.Time `json:"expiryDate,omitempty"`
}

// Pusher delivers one event to one live connection. Implementations report a
// failure when the connection has vanished or cannot accept the write; callers
// are expected to treat such failures as non-fatal.
type Pusher interface {
	Push(connectionID string, event Event) error
}
