package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/levelflow/levelflow/types"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*types.WorkflowConfig
	triggers  map[string]*types.EventTrigger
	runs      map[string]*types.WorkflowExecution
	closed    bool
	config    Config
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(config Config) *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*types.WorkflowConfig),
		triggers:  make(map[string]*types.EventTrigger),
		runs:      make(map[string]*types.WorkflowExecution),
		config:    config,
	}
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveWorkflow 创建或覆盖一个工作流定义。
func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *types.WorkflowConfig) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now()
	if wf.CreatedAt.IsZero() {
		if prev, ok := s.workflows[wf.ID]; ok {
			wf.CreatedAt = prev.CreatedAt
		} else {
			wf.CreatedAt = now
		}
	}
	wf.UpdatedAt = now

	s.workflows[wf.ID] = wf
	return nil
}

// GetWorkflow 按 ID 查询工作流。
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*types.WorkflowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wf, nil
}

// ListWorkflows 返回全部工作流定义，按 ID 排序。
func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*types.WorkflowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*types.WorkflowConfig, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteWorkflow 删除工作流及其触发器注册。
func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(s.workflows, id)

	for key, t := range s.triggers {
		if t.WorkflowID == id {
			delete(s.triggers, key)
		}
	}
	return nil
}

// SaveTrigger 持久化一条触发器注册。
func (s *MemoryStore) SaveTrigger(ctx context.Context, t *types.EventTrigger) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.triggers[t.Key()] = t
	return nil
}

// ListTriggers 返回全部持久化的触发器注册。
func (s *MemoryStore) ListTriggers(ctx context.Context) ([]*types.EventTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	keys := make([]string, 0, len(s.triggers))
	for key := range s.triggers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*types.EventTrigger, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.triggers[key])
	}
	return out, nil
}

// DeleteTrigger 按注册键删除触发器。
func (s *MemoryStore) DeleteTrigger(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.triggers[key]; !ok {
		return ErrNotFound
	}
	delete(s.triggers, key)
	return nil
}

// RecordRun 持久化一条终态执行记录。
func (s *MemoryStore) RecordRun(ctx context.Context, exec *types.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.runs[exec.ID] = exec
	return nil
}

// GetRun 按执行 ID 查询。
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*types.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	exec, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return exec, nil
}

// ListRuns 按过滤条件查询执行历史，按开始时间倒序。
func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*types.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*types.WorkflowExecution, 0, len(s.runs))
	for _, exec := range s.runs {
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && exec.StartTime.Before(filter.Since) {
			continue
		}
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats 返回单个工作流的聚合执行指标。
func (s *MemoryStore) Stats(ctx context.Context, workflowID string) (*RunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &RunStats{WorkflowID: workflowID}
	var totalDuration time.Duration
	var durations int64

	for _, exec := range s.runs {
		if exec.WorkflowID != workflowID {
			continue
		}
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
