package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultRetryWait = 50 * time.Millisecond
)

// Освобождаем ключ, только если он всё ещё принадлежит нам.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis реализует Locker поверх Redis для нескольких экземпляров сервиса.
type Redis struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
	logger    *zap.Logger
}

// NewRedis создаёт распределённый блокировщик. TTL защищает от зависших блокировок
// упавшего экземпляра.
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:    client,
		ttl:       ttl,
		retryWait: defaultRetryWait,
		logger:    logger,
	}
}

// Lock повторяет SET NX до успеха или отмены контекста.
func (r *Redis) Lock(ctx context.Context, userID int64) (func(), error) {
	k := key(userID)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("acquire lock %s: %w", k, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() { r.release(k, token) }, nil
}

// release снимает ключ, если он всё ещё наш. Ошибка только логируется:
// ключ истечёт сам через TTL.
func (r *Redis) release(k, token string) {
	// Контекст вызывающего может быть уже отменён, а ключ нужно снять.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
		r.logger.Warn("release lock failed",
			zap.Error(err), zap.String("key", k), zap.Duration("ttl", r.ttl))
	}
}
