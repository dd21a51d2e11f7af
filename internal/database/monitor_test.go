package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeRecorder struct {
	mu      sync.Mutex
	samples int
	lastDB  string
}

func (r *fakeRecorder) RecordDBConnections(database string, open, idle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples++
	r.lastDB = database
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func testMonitor(t *testing.T, recorder StatsRecorder, interval time.Duration) *Monitor {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return NewMonitor("sqlite", sqlDB, recorder, interval, zap.NewNop())
}

func TestMonitor_Sample(t *testing.T) {
	recorder := &fakeRecorder{}
	m := testMonitor(t, recorder, time.Minute)

	stats := m.Sample()
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
	assert.Equal(t, 1, recorder.count())
	assert.Equal(t, "sqlite", recorder.lastDB)
}

func TestMonitor_StartStop(t *testing.T) {
	recorder := &fakeRecorder{}
	m := testMonitor(t, recorder, 10*time.Millisecond)

	m.Start()
	m.Start() // 重复启动无副作用

	assert.Eventually(t, func() bool { return recorder.count() >= 2 },
		2*time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop() // 重复停止无副作用

	// 停止后不再采样
	settled := recorder.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, recorder.count())
}

func TestMonitor_Ping(t *testing.T) {
	m := testMonitor(t, &fakeRecorder{}, time.Minute)
	assert.NoError(t, m.Ping(context.Background()))
}
