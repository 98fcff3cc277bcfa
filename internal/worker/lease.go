package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Locker grants a named lease to one holder at a time across every running instance.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLocker keeps leases as keys holding a random token. Only the holder of the token
// can release, and an abandoned lease expires after its ttl.
type RedisLocker struct {
	store  leaseStore
	prefix string
}

func NewRedisLocker(store leaseStore) *RedisLocker {
	return &RedisLocker{store: store, prefix: "lease:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.store.SetNX(ctx, l.prefix+key, token, ttl)
	if err != nil || !ok {
		return "", false, err
	}

	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	_, err := l.store.DeleteIfValue(ctx, l.prefix+key, token)
	return err
}
