package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ 数据库连接池监控
// =============================================================================

// StatsRecorder 接收连接池采样结果。internal/metrics.Collector 实现它。
type StatsRecorder interface {
	RecordDBConnections(database string, open, idle int)
}

// Monitor 周期采样 sql.DB 的连接池状态并上报给 StatsRecorder。
// 采样失败只记日志，不影响业务路径。
type Monitor struct {
	name     string
	sqlDB    *sql.DB
	recorder StatsRecorder
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// NewMonitor 创建连接池监控器。interval 为零时取默认 30s。
func NewMonitor(name string, sqlDB *sql.DB, recorder StatsRecorder, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		name:     name,
		sqlDB:    sqlDB,
		recorder: recorder,
		interval: interval,
		logger:   logger.With(zap.String("component", "db_monitor")),
	}
}

// Start 启动后台采样循环。重复调用无副作用。
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.stop = make(chan struct{})
	m.running = true

	go m.loop(m.stop)

	m.logger.Info("database pool monitor started",
		zap.String("database", m.name),
		zap.Duration("interval", m.interval),
	)
}

// Stop 停止采样循环，幂等。
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stop)
	m.running = false
}

func (m *Monitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample 采样一次并上报。返回原始统计供调用方使用。
func (m *Monitor) Sample() sql.DBStats {
	stats := m.sqlDB.Stats()
	m.recorder.RecordDBConnections(m.name, stats.OpenConnections, stats.Idle)

	m.logger.Debug("database pool sampled",
		zap.String("database", m.name),
		zap.Int("open_connections", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
		zap.Int64("wait_count", stats.WaitCount),
	)
	return stats
}

// Ping 检查数据库连通性，可作为就绪探针的检查函数。
func (m *Monitor) Ping(ctx context.Context) error {
	return m.sqlDB.PingContext(ctx)
}
