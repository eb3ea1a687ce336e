package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultRedisTTL = 30 * time.Second

// ErrLockLost is the cancellation cause of a held lock's context once the
// lock can no longer be refreshed.
var ErrLockLost = errors.New("lock lost")

// Redis is a distributed lock backed by redislock. A held lock is refreshed
// every TTL/2 until released, so runs longer than the TTL stay exclusive.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
	log    logrus.FieldLogger
}

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{client: redislock.New(rdb), ttl: ttl, prefix: "lock:", log: log}
}

// TryLock obtains key without retrying. The returned context is derived
// from ctx and is cancelled with ErrLockLost if a refresh fails.
func (r *Redis) TryLock(ctx context.Context, key string) (context.Context, func(), bool, error) {
	lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ctx, nil, false, nil
	}
	if err != nil {
		return ctx, nil, false, err
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(lock, key, cancel, stop, done)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			r.release(lock, key, stop, done)
			cancel(nil)
		})
	}, true, nil
}

func (r *Redis) release(lock *redislock.Lock, key string, stop chan struct{}, done <-chan struct{}) {
	close(stop)
	<-done
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		r.log.WithField("lock_key", key).WithError(err).Warn("release redis lock")
	}
}

type refresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

func (r *Redis) keepAlive(lock refresher, key string, lost context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := lock.Refresh(ctx, r.ttl, nil)
			cancel()
			if err != nil {
				r.log.WithField("lock_key", key).WithError(err).Error("redis lock lost")
				lost(fmt.Errorf("%w: %s: %v", ErrLockLost, key, err))
				return
			}
		}
	}
}
