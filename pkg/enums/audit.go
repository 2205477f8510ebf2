package enums

import "fmt"

// AuditKind classifies append-only audit trail entries.
type AuditKind string

const (
	AuditKindStateChange    AuditKind = "state_change"
	AuditKindLockBypass     AuditKind = "lock_bypass"
	AuditKindAmountMismatch AuditKind = "amount_mismatch"
	AuditKindManualReview   AuditKind = "manual_review"
	AuditKindHeuristicMatch AuditKind = "heuristic_match"
)

var validAuditKinds = []AuditKind{
	AuditKindStateChange,
	AuditKindLockBypass,
	AuditKindAmountMismatch,
	AuditKindManualReview,
	AuditKindHeuristicMatch,
}

// String implements fmt.Stringer.
func (a AuditKind) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditKind.
func (a AuditKind) IsValid() bool {
	for _, candidate := range validAuditKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditKind converts raw input into an AuditKind.
func ParseAuditKind(value string) (AuditKind, error) {
	for _, candidate := range validAuditKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit kind %q", value)
}

// AuditSeverity grades the operational weight of an audit entry.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityCritical AuditSeverity = "critical"
)

// String implements fmt.Stringer.
func (a AuditSeverity) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditSeverity.
func (a AuditSeverity) IsValid() bool {
	return a == AuditSeverityInfo || a == AuditSeverityCritical
}
