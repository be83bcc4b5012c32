package coord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"buildline/internal/config"
)

const (
	defaultKeyPrefix = "buildline:hold:"
	defaultHoldTTL   = 30 * time.Second
	defaultPoll      = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds resources across processes that share one database.
// A hold is a key set with NX and a TTL; the TTL bounds how long a crashed
// holder can block others.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
	// Logger receives release failures. Those holds stay until their TTL
	// expires.
	Logger *slog.Logger
}

// NewRedisClient connects and pings the configured server.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("can't ping redis: %w", err)
	}
	return client, nil
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLocker{Client: client, Prefix: prefix, TTL: defaultHoldTTL, Poll: defaultPoll}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = defaultHoldTTL
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	redisKey := l.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis setnx %s: %w", redisKey, err)
		}
		if ok {
			return func() {
				// ctx may already be cancelled when the holder finishes.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.release(releaseCtx, redisKey, token); err != nil {
					l.logger().Warn("redis hold release failed", "key", redisKey, "ttl", ttl, "err", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release deletes redisKey only while it still carries token.
func (l *RedisLocker) release(ctx context.Context, redisKey, token string) error {
	if err := releaseScript.Run(ctx, l.Client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %s: %w", redisKey, err)
	}
	return nil
}

func (l *RedisLocker) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
