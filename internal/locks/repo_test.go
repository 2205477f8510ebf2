package locks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgdb "github.com/veloracommerce/paycore/pkg/db"
	"github.com/veloracommerce/paycore/pkg/db/models"
)

func setupLocksTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE order_locks (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  holder TEXT NOT NULL,
  acquired_at DATETIME NOT NULL,
  expires_at DATETIME NOT NULL,
  released_at DATETIME
);
CREATE UNIQUE INDEX ux_order_locks_open
  ON order_locks (order_id)
  WHERE released_at IS NULL;`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func openLease(orderID uuid.UUID, holder string, now time.Time, ttl time.Duration) *models.OrderLock {
	return &models.OrderLock{
		ID:         uuid.New(),
		OrderID:    orderID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

func TestInsertSecondOpenLeaseViolatesIndex(t *testing.T) {
	db := setupLocksTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	orderID := uuid.New()

	_, err := repo.Insert(ctx, openLease(orderID, "worker-1", now, time.Minute))
	require.NoError(t, err)

	_, err = repo.Insert(ctx, openLease(orderID, "worker-2", now, time.Minute))
	require.Error(t, err)
	assert.True(t, pkgdb.IsUniqueViolation(err, "ux_order_locks_open", "order_locks.order_id"))

	// A lease on another order is unaffected.
	_, err = repo.Insert(ctx, openLease(uuid.New(), "worker-2", now, time.Minute))
	require.NoError(t, err)
}

func TestRetireExpiredFreesTheSlot(t *testing.T) {
	db := setupLocksTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	orderID := uuid.New()

	_, err := repo.Insert(ctx, openLease(orderID, "worker-1", now.Add(-2*time.Minute), time.Minute))
	require.NoError(t, err)

	affected, err := repo.RetireExpired(ctx, orderID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = repo.Insert(ctx, openLease(orderID, "worker-2", now, time.Minute))
	require.NoError(t, err)

	lock, err := repo.FindOpen(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", lock.Holder)
}

func TestReleaseByHolderIgnoresOtherHolders(t *testing.T) {
	db := setupLocksTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	orderID := uuid.New()

	_, err := repo.Insert(ctx, openLease(orderID, "worker-1", now, time.Minute))
	require.NoError(t, err)

	affected, err := repo.ReleaseByHolder(ctx, orderID, "worker-2", now)
	require.NoError(t, err)
	assert.Zero(t, affected)

	affected, err = repo.ReleaseByHolder(ctx, orderID, "worker-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = repo.FindOpen(ctx, orderID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRetireAllExpiredAndDeleteReleased(t *testing.T) {
	db := setupLocksTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Insert(ctx, openLease(uuid.New(), "worker-1", now.Add(-time.Hour), time.Minute))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, openLease(uuid.New(), "worker-2", now, time.Minute))
	require.NoError(t, err)

	affected, err := repo.RetireAllExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	open, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), open)

	deleted, err := repo.DeleteReleasedBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
