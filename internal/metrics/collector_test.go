package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.executionsTotal)
	assert.NotNil(t, collector.levelDuration)
	assert.NotNil(t, collector.triggerFirings)
}

func TestCollector_ObserveExecution(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveExecution("completed", 2*time.Second)
	collector.ObserveExecution("completed", 3*time.Second)
	collector.ObserveExecution("failed", time.Second)

	count := testutil.CollectAndCount(collector.executionsTotal)
	assert.Equal(t, 2, count, "expected one series per status")

	completed := testutil.ToFloat64(collector.executionsTotal.WithLabelValues("completed"))
	assert.Equal(t, float64(2), completed)
}

func TestCollector_ObserveLevel(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveLevel("parallel", 500*time.Millisecond)
	collector.ObserveLevel("conditional", time.Second)

	count := testutil.CollectAndCount(collector.levelDuration)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordTriggerFiring(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordTriggerFiring("cron", "success", 10*time.Millisecond)
	collector.RecordTriggerFiring("cron", "error", 5*time.Millisecond)
	collector.SetActiveTriggers("cron", 3)

	success := testutil.ToFloat64(collector.triggerFirings.WithLabelValues("cron", "success"))
	assert.Equal(t, float64(1), success)

	active := testutil.ToFloat64(collector.activeTriggers.WithLabelValues("cron"))
	assert.Equal(t, float64(3), active)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/api/v1/workflows", 201, 20*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/api/v1/workflows", 201, 30*time.Millisecond)

	total := testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/workflows", "201"))
	assert.Equal(t, float64(2), total)
}
