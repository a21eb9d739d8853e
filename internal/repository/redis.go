package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/salon-payguard/internal/model"
)

const redisKeyPrefix = "payguard:attempts:"

// Скрипты выполняются на стороне Redis целиком, поэтому несколько экземпляров сервиса
// не могут одновременно прочитать один и тот же count.
var (
	// KEYS[1] = ключ, ARGV = max_attempts, cooldown_ms, now_ms. Возвращает {allowed, remaining_ms}.
	acquireScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local last = tonumber(redis.call('HGET', KEYS[1], 'last_attempt_at') or '0')
if count > 0 and now - last >= cooldown then
	count = 0
end
if count >= max then
	return {0, cooldown - (now - last)}
end
redis.call('HSET', KEYS[1], 'count', count + 1, 'last_attempt_at', now)
redis.call('PEXPIRE', KEYS[1], cooldown)
return {1, 0}
`)

	// KEYS[1] = ключ, ARGV = cooldown_ms, now_ms. Возвращает новый count.
	recordScript = redis.NewScript(`
local cooldown = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local last = tonumber(redis.call('HGET', KEYS[1], 'last_attempt_at') or '0')
if count > 0 and now - last >= cooldown then
	count = 0
end
redis.call('HSET', KEYS[1], 'count', count + 1, 'last_attempt_at', now)
redis.call('PEXPIRE', KEYS[1], cooldown)
return count + 1
`)

	// KEYS[1] = ключ, ARGV = cooldown_ms, now_ms. Возвращает число удалённых ключей.
	purgeScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last_attempt_at')
if last and tonumber(ARGV[2]) - tonumber(last) >= tonumber(ARGV[1]) then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// RedisStore хранит записи о попытках в Redis. Попытки учитываются Lua-скриптами,
// поэтому лимит можно делить между экземплярами сервиса.
// Каждая запись хранится как хеш с полями count и last_attempt_at (Unix миллисекунды) и временем жизни, равным окну ожидания.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore подключается к Redis по адресу addr и проверяет соединение.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		DB:              0,
		PoolSize:        50,
		MinIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     500 * time.Millisecond,
		ReadTimeout:     300 * time.Millisecond,
		WriteTimeout:    300 * time.Millisecond,
		MaxRetries:      2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient оборачивает готовый клиент.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(actorID string) string {
	return redisKeyPrefix + actorID
}

// Get возвращает запись актора.
func (r *RedisStore) Get(ctx context.Context, actorID string) (model.AttemptRecord, bool, error) {
	values, err := r.client.HGetAll(ctx, redisKey(actorID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.AttemptRecord{}, false, nil
		}
		return model.AttemptRecord{}, false, fmt.Errorf("hgetall: %w", err)
	}
	if len(values) == 0 {
		return model.AttemptRecord{}, false, nil
	}

	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return model.AttemptRecord{}, false, fmt.Errorf("parse count: %w", err)
	}
	lastMS, err := strconv.ParseInt(values["last_attempt_at"], 10, 64)
	if err != nil {
		return model.AttemptRecord{}, false, fmt.Errorf("parse last_attempt_at: %w", err)
	}

	return model.AttemptRecord{
		ActorID:       actorID,
		Count:         count,
		LastAttemptAt: time.UnixMilli(lastMS),
	}, true, nil
}

// Set сохраняет запись и продлевает её время жизни.
func (r *RedisStore) Set(ctx context.Context, rec model.AttemptRecord, ttl time.Duration) error {
	key := redisKey(rec.ActorID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"count", rec.Count,
			"last_attempt_at", rec.LastAttemptAt.UnixMilli(),
		)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save attempts: %w", err)
	}
	return nil
}

// Delete удаляет запись актора.
func (r *RedisStore) Delete(ctx context.Context, actorID string) error {
	if err := r.client.Del(ctx, redisKey(actorID)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// AcquireAttempt атомарно проверяет лимит и учитывает попытку.
func (r *RedisStore) AcquireAttempt(ctx context.Context, actorID string, maxAttempts int, cooldown time.Duration, now time.Time) (model.AuthDecision, error) {
	res, err := acquireScript.Run(ctx, r.client, []string{redisKey(actorID)},
		maxAttempts, cooldown.Milliseconds(), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return model.AuthDecision{}, fmt.Errorf("acquire script: %w", err)
	}
	if len(res) != 2 {
		return model.AuthDecision{}, fmt.Errorf("acquire script: unexpected reply %v", res)
	}

	if res[0] == 1 {
		return model.AuthDecision{Allowed: true}, nil
	}
	return model.AuthDecision{
		Allowed:           false,
		RemainingCooldown: time.Duration(res[1]) * time.Millisecond,
	}, nil
}

// RecordAttempt атомарно учитывает попытку.
func (r *RedisStore) RecordAttempt(ctx context.Context, actorID string, cooldown time.Duration, now time.Time) error {
	err := recordScript.Run(ctx, r.client, []string{redisKey(actorID)},
		cooldown.Milliseconds(), now.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("record script: %w", err)
	}
	return nil
}

// PurgeStale удаляет запись, только если её окно ожидания истекло.
func (r *RedisStore) PurgeStale(ctx context.Context, actorID string, cooldown time.Duration, now time.Time) error {
	err := purgeScript.Run(ctx, r.client, []string{redisKey(actorID)},
		cooldown.Milliseconds(), now.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("purge script: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
