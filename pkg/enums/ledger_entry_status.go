package enums

import "fmt"

// LedgerEntryStatus annotates the outcome of a payment ledger entry.
// Rows are otherwise immutable once written.
type LedgerEntryStatus string

const (
	LedgerEntryStatusProcessing LedgerEntryStatus = "processing"
	LedgerEntryStatusApplied    LedgerEntryStatus = "applied"
	LedgerEntryStatusMismatch   LedgerEntryStatus = "mismatch"
	LedgerEntryStatusOrphaned   LedgerEntryStatus = "orphaned"
	LedgerEntryStatusFailed     LedgerEntryStatus = "failed"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryStatusProcessing,
	LedgerEntryStatusApplied,
	LedgerEntryStatusMismatch,
	LedgerEntryStatusOrphaned,
	LedgerEntryStatusFailed,
}

// String implements fmt.Stringer.
func (l LedgerEntryStatus) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEntryStatus.
func (l LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryStatus converts raw input into a LedgerEntryStatus.
func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}
