package enums

import "fmt"

// NotificationStatus tracks a queued event through dispatch.
type NotificationStatus string

const (
	NotificationStatusQueued     NotificationStatus = "queued"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusSent       NotificationStatus = "sent"
	NotificationStatusFailed     NotificationStatus = "failed"
)

var validNotificationStatuses = []NotificationStatus{
	NotificationStatusQueued,
	NotificationStatusProcessing,
	NotificationStatusSent,
	NotificationStatusFailed,
}

// String implements fmt.Stringer.
func (n NotificationStatus) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationStatus.
func (n NotificationStatus) IsValid() bool {
	for _, candidate := range validNotificationStatuses {
		if candidate == n {
			return true
		}
	}
	return false
}

// NotificationEventType identifies the trigger behind a queued notification.
type NotificationEventType string

const (
	NotificationEventPaymentConfirmed   NotificationEventType = "payment_confirmed"
	NotificationEventPaymentFailed      NotificationEventType = "payment_failed"
	NotificationEventOrderStatusChanged NotificationEventType = "order_status_changed"
	NotificationEventOrderReview        NotificationEventType = "order_review_required"
)

var validNotificationEventTypes = []NotificationEventType{
	NotificationEventPaymentConfirmed,
	NotificationEventPaymentFailed,
	NotificationEventOrderStatusChanged,
	NotificationEventOrderReview,
}

// String implements fmt.Stringer.
func (n NotificationEventType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationEventType.
func (n NotificationEventType) IsValid() bool {
	for _, candidate := range validNotificationEventTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationEventType converts raw input into a NotificationEventType.
func ParseNotificationEventType(value string) (NotificationEventType, error) {
	for _, candidate := range validNotificationEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification event type %q", value)
}
