package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/levelflow/levelflow/types"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed deployments. Uses plain keys for workflow and
// trigger payloads with sorted sets indexing run history by start time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	config    Config
}

// NewRedisStore creates a new Redis-based store
func NewRedisStore(config Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, config), nil
}

// NewRedisStoreWithClient wraps an existing Redis client (used by tests)
func NewRedisStoreWithClient(client *redis.Client, config Config) *RedisStore {
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "levelflow:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		config:    config,
	}
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) workflowKey(id string) string {
	return s.keyPrefix + "workflow:" + id
}

func (s *RedisStore) workflowIndexKey() string {
	return s.keyPrefix + "workflows"
}

func (s *RedisStore) triggerKey(key string) string {
	return s.keyPrefix + "trigger:" + key
}

func (s *RedisStore) triggerIndexKey() string {
	return s.keyPrefix + "triggers"
}

func (s *RedisStore) runKey(id string) string {
	return s.keyPrefix + "run:" + id
}

func (s *RedisStore) runIndexKey(workflowID string) string {
	return s.keyPrefix + "runs:" + workflowID
}

func (s *RedisStore) allRunsKey() string {
	return s.keyPrefix + "runs:all"
}

// SaveWorkflow 创建或覆盖一个工作流定义。
func (s *RedisStore) SaveWorkflow(ctx context.Context, wf *types.WorkflowConfig) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.workflowKey(wf.ID), data, 0)
	pipe.SAdd(ctx, s.workflowIndexKey(), wf.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetWorkflow 按 ID 查询工作流。
func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*types.WorkflowConfig, error) {
	data, err := s.client.Get(ctx, s.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var wf types.WorkflowConfig
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListWorkflows 返回全部工作流定义。
func (s *RedisStore) ListWorkflows(ctx context.Context) ([]*types.WorkflowConfig, error) {
	ids, err := s.client.SMembers(ctx, s.workflowIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*types.WorkflowConfig, 0, len(ids))
	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// 索引残留，跳过
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// DeleteWorkflow 删除工作流及其触发器注册。
func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.workflowKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	triggers, err := s.ListTriggers(ctx)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.workflowKey(id))
	pipe.SRem(ctx, s.workflowIndexKey(), id)
	for _, t := range triggers {
		if t.WorkflowID == id {
			pipe.Del(ctx, s.triggerKey(t.Key()))
			pipe.SRem(ctx, s.triggerIndexKey(), t.Key())
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// SaveTrigger 持久化一条触发器注册。
func (s *RedisStore) SaveTrigger(ctx context.Context, t *types.EventTrigger) error {
	if err := t.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	key := t.Key()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.triggerKey(key), data, 0)
	pipe.SAdd(ctx, s.triggerIndexKey(), key)
	_, err = pipe.Exec(ctx)
	return err
}

// ListTriggers 返回全部持久化的触发器注册。
func (s *RedisStore) ListTriggers(ctx context.Context) ([]*types.EventTrigger, error) {
	keys, err := s.client.SMembers(ctx, s.triggerIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*types.EventTrigger, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, s.triggerKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var t types.EventTrigger
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger %s: %w", key, err)
		}
		out = append(out, &t)
	}
	return out, nil
}

// DeleteTrigger 按注册键删除触发器。
func (s *RedisStore) DeleteTrigger(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, s.triggerKey(key)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return s.client.SRem(ctx, s.triggerIndexKey(), key).Err()
}

// RecordRun 持久化一条终态执行记录。
func (s *RedisStore) RecordRun(ctx context.Context, exec *types.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	score := float64(exec.StartTime.UnixNano())
	ttl := s.config.RunRetention

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(exec.ID), data, ttl)
	pipe.ZAdd(ctx, s.runIndexKey(exec.WorkflowID), redis.Z{Score: score, Member: exec.ID})
	pipe.ZAdd(ctx, s.allRunsKey(), redis.Z{Score: score, Member: exec.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// GetRun 按执行 ID 查询。
func (s *RedisStore) GetRun(ctx context.Context, id string) (*types.WorkflowExecution, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var exec types.WorkflowExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListRuns 按过滤条件查询执行历史，按开始时间倒序。
func (s *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*types.WorkflowExecution, error) {
	indexKey := s.allRunsKey()
	if filter.WorkflowID != "" {
		indexKey = s.runIndexKey(filter.WorkflowID)
	}

	min := "-inf"
	if !filter.Since.IsZero() {
		min = fmt.Sprintf("%d", filter.Since.UnixNano())
	}

	ids, err := s.client.ZRevRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*types.WorkflowExecution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.GetRun(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// 记录已按保留期过期，索引残留
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		out = append(out, exec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Stats 返回单个工作流的聚合执行指标。
func (s *RedisStore) Stats(ctx context.Context, workflowID string) (*RunStats, error) {
	runs, err := s.ListRuns(ctx, RunFilter{WorkflowID: workflowID})
	if err != nil {
		return nil, err
	}

	stats := &RunStats{WorkflowID: workflowID}
	var totalDuration time.Duration
	var durations int64

	for _, exec := range runs {
		stats.TotalRuns++
		switch exec.Status {
		case types.StatusCompleted:
			stats.Completed++
		case types.StatusFailed:
			stats.Failed++
		case types.StatusCancelled:
			stats.Cancelled++
		}
		if exec.EndTime != nil {
			totalDuration += exec.EndTime.Sub(exec.StartTime)
			durations++
		}
		if stats.LastRunAt == nil || exec.StartTime.After(*stats.LastRunAt) {
			start := exec.StartTime
			stats.LastRunAt = &start
			stats.LastRunStatus = string(exec.Status)
		}
	}

	if durations > 0 {
		stats.AvgDuration = totalDuration / time.Duration(durations)
	}
	return stats, nil
}
