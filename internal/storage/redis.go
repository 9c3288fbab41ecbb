package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lastRunKey = "collect:last_run"
	lastRunTTL = 7 * 24 * time.Hour
)

// releaseScript 仅当锁仍由自己持有时才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func sourceLockKey(sourceID string) string {
	return "collect:lock:source:" + sourceID
}

// AcquireSourceLock 获取某个数据源的采集锁，避免两次运行同时改写同一数据源的同步状态。
// 未配置 redis 时总是成功。ok 为 false 表示锁被其它运行持有。
func (s *Store) AcquireSourceLock(ctx context.Context, sourceID string, ttl time.Duration) (release func(), ok bool, err error) {
	if s.Redis == nil {
		return func() {}, true, nil
	}

	token := uuid.NewString()
	key := sourceLockKey(sourceID)
	ok, err = s.Redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock for source %s: %w", sourceID, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// 释放不跟随调用方的 ctx，避免采集超时后锁无法释放
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, s.Redis, []string{key}, token).Err()
	}
	return release, true, nil
}

// CacheLastRun 缓存最近一次运行报告（已序列化的 JSON）
func (s *Store) CacheLastRun(ctx context.Context, report []byte) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Set(ctx, lastRunKey, report, lastRunTTL).Err()
}

// ErrNoLastRun 尚无缓存的运行报告
var ErrNoLastRun = errors.New("no cached run report")

// LastRun 读取最近一次运行报告
func (s *Store) LastRun(ctx context.Context) ([]byte, error) {
	if s.Redis == nil {
		return nil, ErrNoLastRun
	}
	bs, err := s.Redis.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoLastRun
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	return bs, nil
}
