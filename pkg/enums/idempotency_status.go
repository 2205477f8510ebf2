package enums

import "fmt"

// IdempotencyStatus tracks the terminal state of a cached request.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusSuccess    IdempotencyStatus = "success"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

var validIdempotencyStatuses = []IdempotencyStatus{
	IdempotencyStatusProcessing,
	IdempotencyStatusSuccess,
	IdempotencyStatusFailed,
}

// String implements fmt.Stringer.
func (i IdempotencyStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IdempotencyStatus.
func (i IdempotencyStatus) IsValid() bool {
	for _, candidate := range validIdempotencyStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseIdempotencyStatus converts raw input into an IdempotencyStatus.
func ParseIdempotencyStatus(value string) (IdempotencyStatus, error) {
	for _, candidate := range validIdempotencyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid idempotency status %q", value)
}
