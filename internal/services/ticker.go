package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// BillingTicker fires fn once per interval until stopped. Stop only cancels;
// it never waits, so it is safe to call from inside fn.
type BillingTicker struct {
	callID int64
	cancel context.CancelFunc
	done   chan struct{}
}

func startBillingTicker(parent context.Context, wg *sync.WaitGroup, callID int64, interval time.Duration, fn func(ctx context.Context)) *BillingTicker {
	ctx, cancel := context.WithCancel(parent)
	t := &BillingTicker{callID: callID, cancel: cancel, done: make(chan struct{})}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(t.done)

		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				fn(ctx)
			}
		}
	}()
	return t
}

func (t *BillingTicker) Stop() {
	t.cancel()
}

// Done is closed once the ticker goroutine has exited.
func (t *BillingTicker) Done() <-chan struct{} {
	return t.done
}

// TickerLease keeps the ticker for a call on a single process when several
// instances share one database.
type TickerLease interface {
	Acquire(ctx context.Context, callID int64) (bool, error)
	Refresh(ctx context.Context, callID int64) error
	Release(ctx context.Context, callID int64) error
}

// NewTickerLease returns a Redis-backed lease, or a lease that always
// succeeds when client is nil.
func NewTickerLease(client *redis.Client, owner string, ttl time.Duration) TickerLease {
	if client == nil {
		return noopLease{}
	}
	return &RedisTickerLease{client: client, owner: owner, ttl: ttl}
}

type RedisTickerLease struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

func leaseKey(callID int64) string {
	return fmt.Sprintf("call:ticker:%d", callID)
}

func (l *RedisTickerLease) Acquire(ctx context.Context, callID int64) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(callID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire ticker lease: %w", err)
	}
	return ok, nil
}

// refreshScript extends the lease TTL only while ARGV[1] still owns it.
const refreshScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// Refresh extends the lease while this process still owns it. A lapsed or
// foreign lease yields ErrLeaseLost and is left untouched.
func (l *RedisTickerLease) Refresh(ctx context.Context, callID int64) error {
	n, err := l.client.Eval(ctx, refreshScript, []string{leaseKey(callID)}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh ticker lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("refresh ticker lease for call %d: %w", callID, ErrLeaseLost)
	}
	return nil
}

// Release deletes the lease only while this process still owns it.
func (l *RedisTickerLease) Release(ctx context.Context, callID int64) error {
	key := leaseKey(callID)
	owner, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release ticker lease: %w", err)
	}
	if owner != l.owner {
		log.Printf("[BILLING] lease for call %d owned by %s, not releasing", callID, owner)
		return nil
	}
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release ticker lease: %w", err)
	}
	return nil
}

type noopLease struct{}

func (noopLease) Acquire(context.Context, int64) (bool, error) { return true, nil }
func (noopLease) Refresh(context.Context, int64) error         { return nil }
func (noopLease) Release(context.Context, int64) error         { return nil }
