// Package storage provides persistent storage for workflow definitions,
// trigger registrations and execution history.
//
// Supported backends:
// - Memory: For development and testing (default)
// - SQL: SQLite / MySQL / PostgreSQL via GORM, for single-node and clustered deployments
// - Redis: For distributed deployments that only need run history
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/levelflow/levelflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypeMySQL    StoreType = "mysql"
	StoreTypePostgres StoreType = "postgres"
	StoreTypeRedis    StoreType = "redis"
)

// RedisConfig Redis 后端连接配置。
type RedisConfig struct {
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// PoolConfig SQL 连接池配置。
type PoolConfig struct {
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// DefaultPoolConfig 返回默认连接池配置。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Config is the base configuration for all store implementations
type Config struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// DSN SQL 后端的连接串（SQLite 为文件路径，":memory:" 表示内存库）
	DSN string `json:"dsn" yaml:"dsn"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Pool SQL 连接池配置
	Pool PoolConfig `json:"pool" yaml:"pool"`

	// RunRetention 执行记录的保留时长，零值表示永久保留
	RunRetention time.Duration `json:"run_retention" yaml:"run_retention"`
}

// DefaultConfig 返回内存后端的默认配置。
func DefaultConfig() Config {
	return Config{
		Type: StoreTypeMemory,
		DSN:  ":memory:",
		Pool: DefaultPoolConfig(),
	}
}

// RunFilter 执行历史查询条件。零值字段不参与过滤。
type RunFilter struct {
	WorkflowID string
	Status     types.ExecutionStatus
	Since      time.Time
	Limit      int
}

// RunStats 单个工作流的聚合执行指标。
type RunStats struct {
	WorkflowID    string        `json:"workflow_id"`
	TotalRuns     int64         `json:"total_runs"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Cancelled     int64         `json:"cancelled"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	LastRunStatus string        `json:"last_run_status,omitempty"`
}

// Store 工作流编排系统的持久化边界。
//
// 三类数据：工作流定义（配置，低频写）、触发器注册（服务重启后
// 重新布防的依据）、执行历史（追加为主，终态后不可变）。
type Store interface {
	// SaveWorkflow 创建或覆盖一个工作流定义
	SaveWorkflow(ctx context.Context, wf *types.WorkflowConfig) error

	// GetWorkflow 按 ID 查询工作流，不存在时返回 ErrNotFound
	GetWorkflow(ctx context.Context, id string) (*types.WorkflowConfig, error)

	// ListWorkflows 返回全部工作流定义
	ListWorkflows(ctx context.Context) ([]*types.WorkflowConfig, error)

	// DeleteWorkflow 删除工作流及其触发器注册，不存在时返回 ErrNotFound
	DeleteWorkflow(ctx context.Context, id string) error

	// SaveTrigger 持久化一条触发器注册，按 Key() 去重
	SaveTrigger(ctx context.Context, t *types.EventTrigger) error

	// ListTriggers 返回全部持久化的触发器注册
	ListTriggers(ctx context.Context) ([]*types.EventTrigger, error)

	// DeleteTrigger 按注册键删除触发器，不存在时返回 ErrNotFound
	DeleteTrigger(ctx context.Context, key string) error

	// RecordRun 持久化一条终态执行记录
	RecordRun(ctx context.Context, exec *types.WorkflowExecution) error

	// GetRun 按执行 ID 查询，不存在时返回 ErrNotFound
	GetRun(ctx context.Context, id string) (*types.WorkflowExecution, error)

	// ListRuns 按过滤条件查询执行历史，按开始时间倒序
	ListRuns(ctx context.Context, filter RunFilter) ([]*types.WorkflowExecution, error)

	// Stats 返回单个工作流的聚合执行指标
	Stats(ctx context.Context, workflowID string) (*RunStats, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store
	Close() error
}
