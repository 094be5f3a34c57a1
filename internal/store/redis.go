// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/pkg/task"
)

// RedisStore 把每个任务保存为一个 Redis Hash。
// 一次 HSET 同时写入所有字段，Redis 保证它是原子的，读者看不到半新半旧的记录。
//
// Persist 返回只代表 Redis 已接受写入。只有服务器配置了
// appendonly yes 和 appendfsync always 时，快照才能在 Redis 崩溃后保留；
// 需要这一保证的部署必须这样配置 Redis，否则应使用 FileStore。
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedisStore 创建一个新的 Redis 存储实例。prefix 用于区分同一实例上的多个部署。
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, log: logger.Get("store")}
}

// DialRedis 连接 Redis 并确认可用
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}
	return rdb, nil
}

// taskKey 返回一个任务记录在Redis中的键名
func (s *RedisStore) taskKey(taskID string) string {
	return fmt.Sprintf("%stask:record:%s", s.prefix, taskID)
}

// Persist 实现 Store 接口
func (s *RedisStore) Persist(ctx context.Context, t *task.DownloadTask) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return &PersistenceError{TaskID: t.ID, Err: fmt.Errorf("序列化任务失败: %w", err)}
	}
	fields := map[string]interface{}{
		"id":         t.ID,
		"status":     string(t.Status),
		"updated_at": t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"payload":    payload,
	}
	if err := s.rdb.HSet(ctx, s.taskKey(t.ID), fields).Err(); err != nil {
		return &PersistenceError{TaskID: t.ID, Err: err}
	}
	return nil
}

// LoadAll 实现 Store 接口
func (s *RedisStore) LoadAll(ctx context.Context) ([]*task.DownloadTask, error) {
	var tasks []*task.DownloadTask

	iter := s.rdb.Scan(ctx, 0, s.taskKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.rdb.HGet(ctx, key, "payload").Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				s.log.Warn().Str("key", key).Msg("任务记录缺少 payload 字段，已跳过")
				continue
			}
			return nil, fmt.Errorf("读取任务记录 %s 失败: %w", key, err)
		}

		var t task.DownloadTask
		if err := json.Unmarshal(payload, &t); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("跳过无法解析的任务记录")
			continue
		}
		if err := t.Validate(); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("跳过不一致的任务记录")
			continue
		}
		tasks = append(tasks, &t)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("扫描任务记录失败: %w", err)
	}
	return tasks, nil
}

// Close 关闭客户端连接
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
