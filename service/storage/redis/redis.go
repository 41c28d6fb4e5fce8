package redis

import (
	"context"
	"sync"
	"time"

	"DeepGround/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisMu  sync.Mutex
	redisMgr *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// InitRedis 初始化 Redis 管理器（单例），重复调用直接返回
func InitRedis(ctx context.Context, c Config) error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil {
		return nil
	}
	if c.Addr == "" {
		return errs.ErrTransport.WrapMsg("redis addr missing")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return errs.As(errs.ErrTransport, err)
	}
	redisMgr = &RedisManager{client: rdb}
	return nil
}

// GetRedis 获取 Redis Client
func GetRedis() *redis.Client {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		panic("Redis not initialized, call InitRedis first")
	}
	return redisMgr.client
}

func Ready() bool {
	redisMu.Lock()
	defer redisMu.Unlock()
	return redisMgr != nil
}

// CloseRedis 关闭连接，之后可以再次 InitRedis
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil
	}
	err := redisMgr.client.Close()
	redisMgr = nil
	return err
}
