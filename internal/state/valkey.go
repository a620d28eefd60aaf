package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if this run still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ValkeyLock is a lease held in Valkey (or Redis) with SET NX PX. It lets
// runs scheduled on different hosts share one posting account safely.
type ValkeyLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func NewValkeyLock(addr, password, key, owner string, ttl time.Duration) (*ValkeyLock, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return &ValkeyLock{client: rdb, key: key, owner: owner, ttl: ttl}, nil
}

func (l *ValkeyLock) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (l *ValkeyLock) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *ValkeyLock) Close() error {
	return l.client.Close()
}
