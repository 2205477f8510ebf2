package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLock is a time-bounded exclusive lease on one order. The partial
// unique index ux_order_locks_open (order_id WHERE released_at IS NULL) is
// the arbiter: at most one open row per order can ever exist, so Acquire is
// a plain insert, never a check-then-act.
type OrderLock struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	Holder     string     `gorm:"column:holder;not null"`
	AcquiredAt time.Time  `gorm:"column:acquired_at;not null"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
}

// Open reports whether the lease is still held at the given instant.
func (l OrderLock) Open(now time.Time) bool {
	return l.ReleasedAt == nil && l.ExpiresAt.After(now)
}

// Remaining returns how much lease time is left at the given instant.
func (l OrderLock) Remaining(now time.Time) time.Duration {
	if !l.Open(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
