package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

func watchTrigger(workflowID, path string, events ...types.WatchEvent) *types.EventTrigger {
	return &types.EventTrigger{
		Kind:       types.TriggerWatch,
		WorkflowID: workflowID,
		Watch:      &types.WatchConfig{Path: path, Events: events},
	}
}

func TestWatchAdapter_DebounceMapPruned(t *testing.T) {
	t.Parallel()

	a, err := NewWatchAdapter(zap.NewNop())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	// 预置一批窗口外的旧条目
	stale := time.Now().Add(-10 * writeDebounce)
	a.mu.Lock()
	for _, name := range []string{"/churn/a.txt", "/churn/b.txt", "/churn/c.txt"} {
		a.lastWrite[name] = stale
	}
	a.mu.Unlock()

	a.handle(fsnotify.Event{Name: "/churn/fresh.txt", Op: fsnotify.Write})

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.lastWrite, 1, "stale debounce entries must be evicted")
	assert.Contains(t, a.lastWrite, "/churn/fresh.txt")
}

func TestWatchAdapter_RejectsMissingPath(t *testing.T) {
	t.Parallel()

	a, err := NewWatchAdapter(zap.NewNop())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	err = a.Register(watchTrigger("wf-1", "/does/not/exist", types.WatchModified), noopCallback)
	require.Error(t, err)
	assert.Equal(t, 0, a.Active(), "failed registration must leave no watch behind")
}

func TestWatchAdapter_ModifiedOnlyFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewWatchAdapter(zap.NewNop())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	fired := make(chan *types.Event, 8)
	require.NoError(t, a.Register(watchTrigger("wf-1", dir, types.WatchModified),
		func(ctx context.Context, event *types.Event) (*types.WorkflowExecution, error) {
			fired <- event
			return nil, nil
		}))
	require.NoError(t, a.Start(context.Background()))

	// 创建空文件：只产生 created，不得触发
	target := filepath.Join(dir, "data.txt")
	f, err := os.Create(target)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case ev := <-fired:
		t.Fatalf("file creation must not fire a modified-only trigger, got %v", ev.Data)
	case <-time.After(400 * time.Millisecond):
	}

	// 修改文件：必须恰好触发一次，eventType 为 modified
	require.NoError(t, os.WriteFile(target, []byte("payload"), 0o644))

	select {
	case ev := <-fired:
		assert.Equal(t, "modified", ev.Data["eventType"])
		assert.Equal(t, target, ev.Data["path"])
		assert.Equal(t, "wf-1", ev.WorkflowID())
	case <-time.After(3 * time.Second):
		t.Fatal("file modification did not fire")
	}

	// 去抖窗口内不得出现第二次触发
	select {
	case <-fired:
		t.Fatal("duplicate fire for a single modification")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchAdapter_Matches(t *testing.T) {
	t.Parallel()

	a, err := NewWatchAdapter(zap.NewNop())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	reg := &watchRegistration{
		trigger: &types.EventTrigger{
			Kind:       types.TriggerWatch,
			WorkflowID: "wf-1",
			Watch: &types.WatchConfig{
				Path:    "/tmp/watched",
				Pattern: "*.yaml",
				Events:  []types.WatchEvent{types.WatchCreated},
			},
		},
	}

	assert.True(t, a.matches(reg, "/tmp/watched/app.yaml", types.WatchCreated))
	assert.False(t, a.matches(reg, "/tmp/watched/app.yaml", types.WatchModified), "event kind not in set")
	assert.False(t, a.matches(reg, "/tmp/watched/app.json", types.WatchCreated), "pattern mismatch")
	assert.False(t, a.matches(reg, "/tmp/other/app.yaml", types.WatchCreated), "outside watched path")
}

func TestWatchAdapter_MapOp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		op   fsnotify.Op
		want types.WatchEvent
		ok   bool
	}{
		{fsnotify.Create, types.WatchCreated, true},
		{fsnotify.Write, types.WatchModified, true},
		{fsnotify.Remove, types.WatchDeleted, true},
		{fsnotify.Rename, types.WatchDeleted, true},
		{fsnotify.Chmod, "", false},
	}
	for _, tc := range cases {
		got, ok := mapOp(tc.op)
		assert.Equal(t, tc.ok, ok, "op %v", tc.op)
		assert.Equal(t, tc.want, got, "op %v", tc.op)
	}
}

func TestWatchAdapter_IgnoresHiddenFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewWatchAdapter(zap.NewNop())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	fired := make(chan *types.Event, 4)
	require.NoError(t, a.Register(watchTrigger("wf-1", dir, types.WatchCreated, types.WatchModified),
		func(ctx context.Context, event *types.Event) (*types.WorkflowExecution, error) {
			fired <- event
			return nil, nil
		}))
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.swp"), []byte("x"), 0o644))

	select {
	case <-fired:
		t.Fatal("hidden file must not fire")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatchAdapter_UnregisterUnknown(t *testing.T) {
	t.Parallel()

	a, err := NewWatchAdapter(zap.NewNop())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	require.NoError(t, a.Unregister(watchTrigger("wf-x", "/tmp/watched", types.WatchModified)))
	assert.Equal(t, 0, a.Active())
}
