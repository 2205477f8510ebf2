package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeLockStore struct {
	values map[string]string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: make(map[string]string)}
}

func (f *fakeLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) Get(ctx context.Context, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeLockStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestRedisRunLockAcquireAndRelease(t *testing.T) {
	store := newFakeLockStore()
	lock, err := NewRedisRunLock(store, "paycore:lock:sweep", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunLock: %v", err)
	}
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, ok=%v err=%v", ok, err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, held := store.values["paycore:lock:sweep"]; held {
		t.Fatal("release must delete the key")
	}
}

func TestRedisRunLockRefusedWhileHeld(t *testing.T) {
	store := newFakeLockStore()
	first, _ := NewRedisRunLock(store, "paycore:lock:sweep", time.Minute)
	second, _ := NewRedisRunLock(store, "paycore:lock:sweep", time.Minute)
	ctx := context.Background()

	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatal("first acquire must succeed")
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire must be refused")
	}
}

func TestRedisRunLockReleaseLeavesForeignOwner(t *testing.T) {
	store := newFakeLockStore()
	lock, _ := NewRedisRunLock(store, "paycore:lock:sweep", time.Minute)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire must succeed")
	}
	// The TTL lapsed and another replica took the lock in between.
	store.values["paycore:lock:sweep"] = "someone-else"

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.values["paycore:lock:sweep"] != "someone-else" {
		t.Fatal("release must not delete a foreign owner's lock")
	}
}

func TestRedisRunLockReleaseWithoutAcquireIsNoOp(t *testing.T) {
	store := newFakeLockStore()
	lock, _ := NewRedisRunLock(store, "paycore:lock:sweep", time.Minute)

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
