package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultTTL = 30 * time.Minute

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 SET NX PX 的分布式锁，多实例部署时保证同一时刻最多一次更新。
// TTL 应大于一次更新的最长耗时，进程崩溃后锁会自动过期
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration, logger *logrus.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl, logger: logger}
}

// NewRedisClient 按配置创建 Redis 客户端并检查连通性
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return client, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("获取分布式锁失败: %w", err)
	}
	if !ok {
		return nil, apperr.ErrRunInProgress
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := releaseScript.Run(context.Background(), l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.WithError(err).WithField("key", l.key).Warn("释放分布式锁失败")
			}
		})
	}, nil
}
