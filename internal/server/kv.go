package server

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss 表示缓存不存在
var ErrCacheMiss = errors.New("cache miss")

// KVStore 抽象的KV存储，KPI与活跃模型摘要的短期缓存走这里。
// 未配置Redis时缓存整体关闭，所有查询直接落库。
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore 基于go-redis的KV实现
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(addr string) *RedisKVStore {
	return &RedisKVStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}
