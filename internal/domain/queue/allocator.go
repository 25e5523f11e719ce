package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultCounterKey = "healthqueue:queue:number"

// seedScript raises the counter to floor when it is lower, in one round trip.
var seedScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call("SET", KEYS[1], floor)
	return floor
end
return current
`)

// RedisAllocator hands out queue numbers with INCR, which is atomic across
// every process sharing the Redis instance.
type RedisAllocator struct {
	client redis.Cmdable
	key    string
}

func NewRedisAllocator(client redis.Cmdable, key string) *RedisAllocator {
	if key == "" {
		key = DefaultCounterKey
	}
	return &RedisAllocator{client: client, key: key}
}

func (a *RedisAllocator) Next(ctx context.Context) (int, error) {
	n, err := a.client.Incr(ctx, a.key).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate queue number: %w: %w", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

func (a *RedisAllocator) Seed(ctx context.Context, floor int) error {
	if err := seedScript.Run(ctx, a.client, []string{a.key}, floor).Err(); err != nil {
		return fmt.Errorf("seed queue counter: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Current returns the last number handed out, or 0 when none has been.
func (a *RedisAllocator) Current(ctx context.Context) (int, error) {
	n, err := a.client.Get(ctx, a.key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read queue counter: %w: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}
