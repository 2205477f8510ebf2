package enums

import "fmt"

// IntentState tracks the lifecycle of a payment intent.
type IntentState string

const (
	IntentStateRequiresPayment IntentState = "requires_payment"
	IntentStateProcessing      IntentState = "processing"
	IntentStateSucceeded       IntentState = "succeeded"
	IntentStateFailed          IntentState = "failed"
	IntentStateAbandoned       IntentState = "abandoned"
)

var validIntentStates = []IntentState{
	IntentStateRequiresPayment,
	IntentStateProcessing,
	IntentStateSucceeded,
	IntentStateFailed,
	IntentStateAbandoned,
}

// String implements fmt.Stringer.
func (i IntentState) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IntentState.
func (i IntentState) IsValid() bool {
	for _, candidate := range validIntentStates {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseIntentState converts raw input into an IntentState.
func ParseIntentState(value string) (IntentState, error) {
	for _, candidate := range validIntentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent state %q", value)
}
