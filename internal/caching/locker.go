package caching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained means another instance holds the lock
var ErrLockNotObtained = errors.New("lock held by another instance")

// Locker guards a run across every process sharing the same Redis
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

type redisLocker struct {
	locker *redislock.Client
}

func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{locker: redislock.New(client)}
}

func (l *redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, fmt.Sprintf("%s:lock:%s", keyPrefix, name), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
