package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/levelflow/levelflow/types"
)

// =============================================================================
// GORM 数据模型
// =============================================================================

// WorkflowRecord 工作流定义的数据库行。定义本体整体序列化为 JSON，
// 常用查询字段提升为列。
type WorkflowRecord struct {
	ID         string    `gorm:"primaryKey;size:128"`
	Name       string    `gorm:"size:256;not null"`
	Enabled    bool      `gorm:"index"`
	Definition []byte    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (WorkflowRecord) TableName() string { return "workflows" }

// TriggerRecord 触发器注册行，主键是注册键（种类+工作流+配置去重）。
type TriggerRecord struct {
	Key        string    `gorm:"column:registration_key;primaryKey;size:512"`
	WorkflowID string    `gorm:"index;size:128;not null"`
	Kind       string    `gorm:"size:32;not null"`
	Payload    []byte    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (TriggerRecord) TableName() string { return "triggers" }

// RunRecord 执行历史行。完整执行记录序列化为 JSON，
// 查询与聚合所需字段提升为列。
type RunRecord struct {
	ID         string     `gorm:"primaryKey;size:128"`
	WorkflowID string     `gorm:"index;size:128;not null"`
	Status     string     `gorm:"index;size:16;not null"`
	StartTime  time.Time  `gorm:"index"`
	EndTime    *time.Time `gorm:""`
	DurationMs int64      `gorm:""`
	Payload    []byte     `gorm:"type:text;not null"`
}

// TableName 指定表名
func (RunRecord) TableName() string { return "workflow_runs" }

// =============================================================================
// GORM 存储实现
// =============================================================================

// GormStore is a SQL-backed implementation of Store using GORM.
// Supports SQLite, MySQL and PostgreSQL.
type GormStore struct {
	db     *gorm.DB
	config Config
}

// NewGormStore opens a SQL-backed store for the configured backend
func NewGormStore(config Config) (*GormStore, error) {
	dialector, err := openDialector(config)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	return NewGormStoreWithDB(db, config)
}

// NewGormStoreWithDB wraps an existing GORM connection (used by tests)
func NewGormStoreWithDB(db *gorm.DB, config Config) (*GormStore, error) {
	if err := db.AutoMigrate(&WorkflowRecord{}, &TriggerRecord{}, &RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := config.Pool
	if pool.MaxOpenConns == 0 {
		pool = DefaultPoolConfig()
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	return &GormStore{db: db, config: config}, nil
}

func openDialector(config Config) (gorm.Dialector, error) {
	switch config.Type {
	case StoreTypeSQLite:
		dsn := config.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.Open(dsn), nil
	case StoreTypeMySQL:
		return mysql.Open(config.DSN), nil
	case StoreTypePostgres:
		return postgres.Open(config.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported sql store type: %s", config.Type)
	}
}

// DB 暴露底层连接，供迁移工具使用。
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close closes the store
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveWorkflow 创建或覆盖一个工作流定义。
func (s *GormStore) SaveWorkflow(ctx context.Context, wf *types.WorkflowConfig) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	payload, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	record := WorkflowRecord{
		ID:         wf.ID,
		Name:       wf.Name,
		Enabled:    wf.Enabled,
		Definition: payload,
		CreatedAt:  wf.CreatedAt,
		UpdatedAt:  wf.UpdatedAt,
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// GetWorkflow 按 ID 查询工作流。
func (s *GormStore) GetWorkflow(ctx context.Context, id string) (*types.WorkflowConfig, error) {
	var record WorkflowRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var wf types.WorkflowConfig
	if err := json.Unmarshal(record.Definition, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListWorkflows 返回全部工作流定义，按 ID 排序。
func (s *GormStore) ListWorkflows(ctx context.Context) ([]*types.WorkflowConfig, error) {
	var records []WorkflowRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]*types.WorkflowConfig, 0, len(records))
	for _, record := range records {
		var wf types.WorkflowConfig
		if err := json.Unmarshal(record.Definition, &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", record.ID, err)
		}
		out = append(out, &wf)
	}
	return out, nil
}

// DeleteWorkflow 删除工作流及其触发器注册，同一事务内完成。
func (s *GormStore) DeleteWorkflow(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&WorkflowRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&TriggerRecord{}, "workflow_id = ?", id).Error
	})
}

// SaveTrigger 持久化一条触发器注册，按注册键去重。
func (s *GormStore) SaveTrigger(ctx context.Context, t *types.EventTrigger) error {
	if err := t.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	record := TriggerRecord{
		Key:        t.Key(),
		WorkflowID: t.WorkflowID,
		Kind:       string(t.Kind),
		Payload:    payload,
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// ListTriggers 返回全部持久化的触发器注册。
func (s *GormStore) ListTriggers(ctx context.Context) ([]*types.EventTrigger, error) {
	var records []TriggerRecord
	if err := s.db.WithContext(ctx).Order("registration_key").Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]*types.EventTrigger, 0, len(records))
	for _, record := range records {
		var t types.EventTrigger
		if err := json.Unmarshal(record.Payload, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger %s: %w", record.Key, err)
		}
		out = append(out, &t)
	}
	return out, nil
}

// DeleteTrigger 按注册键删除触发器。
func (s *GormStore) DeleteTrigger(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Delete(&TriggerRecord{}, "registration_key = ?", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRun 持久化一条终态执行记录。
func (s *GormStore) RecordRun(ctx context.Context, exec *types.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return ErrInvalidInput
	}

	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	record := RunRecord{
		ID:         exec.ID,
		WorkflowID: exec.WorkflowID,
		Status:     string(exec.Status),
		StartTime:  exec.StartTime,
		EndTime:    exec.EndTime,
		Payload:    payload,
	}
	if exec.EndTime != nil {
		record.DurationMs = exec.EndTime.Sub(exec.StartTime).Milliseconds()
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// GetRun 按执行 ID 查询。
func (s *GormStore) GetRun(ctx context.Context, id string) (*types.WorkflowExecution, error) {
	var record RunRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var exec types.WorkflowExecution
	if err := json.Unmarshal(record.Payload, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListRuns 按过滤条件查询执行历史，按开始时间倒序。
func (s *GormStore) ListRuns(ctx context.Context, filter RunFilter) ([]*types.WorkflowExecution, error) {
	query := s.db.WithContext(ctx).Model(&RunRecord{}).Order("start_time DESC")
	if filter.WorkflowID != "" {
		query = query.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query = query.Where("start_time >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []RunRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]*types.WorkflowExecution, 0, len(records))
	for _, record := range records {
		var exec types.WorkflowExecution
		if err := json.Unmarshal(record.Payload, &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution %s: %w", record.ID, err)
		}
		out = append(out, &exec)
	}
	return out, nil
}

// Stats 返回单个工作流的聚合执行指标，一次查询完成。
func (s *GormStore) Stats(ctx context.Context, workflowID string) (*RunStats, error) {
	type row struct {
		Total     int64
		Completed int64
		Failed    int64
		Cancelled int64
		AvgMs     float64
	}

	var r row
	err := s.db.WithContext(ctx).Model(&RunRecord{}).
		Select(
			"COUNT(*) AS total, "+
				"SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed, "+
				"SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed, "+
				"SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END) AS cancelled, "+
				"COALESCE(AVG(duration_ms), 0) AS avg_ms").
		Where("workflow_id = ?", workflowID).
		Scan(&r).Error
	if err != nil {
		return nil, err
	}

	stats := &RunStats{
		WorkflowID:  workflowID,
		TotalRuns:   r.Total,
		Completed:   r.Completed,
		Failed:      r.Failed,
		Cancelled:   r.Cancelled,
		AvgDuration: time.Duration(r.AvgMs) * time.Millisecond,
	}

	var last RunRecord
	err = s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("start_time DESC").
		First(&last).Error
	if err == nil {
		start := last.StartTime
		stats.LastRunAt = &start
		stats.LastRunStatus = last.Status
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return stats, nil
}

// PurgeRuns 删除早于保留期的执行记录，返回删除数量。
func (s *GormStore) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&RunRecord{}, "start_time < ?", before)
	return res.RowsAffected, res.Error
}
