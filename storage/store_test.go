package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/levelflow/levelflow/types"
)

func testWorkflow(id string) *types.WorkflowConfig {
	return &types.WorkflowConfig{
		ID:   id,
		Name: "test workflow " + id,
		RootAgent: types.AgentConfig{
			ID:    "root",
			Model: "test-model",
		},
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeParallel, Agents: []types.AgentConfig{
				{ID: "a", Model: "test-model"},
			}},
		},
		Enabled: true,
	}
}

func testTrigger(workflowID string) *types.EventTrigger {
	return &types.EventTrigger{
		Kind:       types.TriggerCron,
		WorkflowID: workflowID,
		Cron:       &types.CronConfig{Schedule: "*/5 * * * *"},
	}
}

func testRun(workflowID string, status types.ExecutionStatus, start time.Time) *types.WorkflowExecution {
	exec := types.NewWorkflowExecution(workflowID, nil)
	exec.Status = status
	exec.StartTime = start
	if status.Terminal() {
		end := start.Add(2 * time.Second)
		exec.EndTime = &end
	}
	return exec
}

// exerciseStore 对任意 Store 实现跑完整的行为契约。
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetWorkflow", func(t *testing.T) {
		wf := testWorkflow("wf-1")
		if err := store.SaveWorkflow(ctx, wf); err != nil {
			t.Fatalf("SaveWorkflow failed: %v", err)
		}

		got, err := store.GetWorkflow(ctx, "wf-1")
		if err != nil {
			t.Fatalf("GetWorkflow failed: %v", err)
		}
		if got.Name != wf.Name {
			t.Errorf("Name mismatch: got %s, want %s", got.Name, wf.Name)
		}
		if len(got.Levels) != 1 || got.Levels[0].Agents[0].ID != "a" {
			t.Errorf("Levels not round-tripped: %+v", got.Levels)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not set on save")
		}
	})

	t.Run("OverwriteWorkflow", func(t *testing.T) {
		wf := testWorkflow("wf-1")
		wf.Name = "renamed"
		if err := store.SaveWorkflow(ctx, wf); err != nil {
			t.Fatalf("SaveWorkflow failed: %v", err)
		}

		got, err := store.GetWorkflow(ctx, "wf-1")
		if err != nil {
			t.Fatalf("GetWorkflow failed: %v", err)
		}
		if got.Name != "renamed" {
			t.Errorf("overwrite not applied: got %s", got.Name)
		}
	})

	t.Run("GetWorkflowNotFound", func(t *testing.T) {
		_, err := store.GetWorkflow(ctx, "no-such-workflow")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		if err := store.SaveWorkflow(ctx, testWorkflow("wf-2")); err != nil {
			t.Fatalf("SaveWorkflow failed: %v", err)
		}

		workflows, err := store.ListWorkflows(ctx)
		if err != nil {
			t.Fatalf("ListWorkflows failed: %v", err)
		}
		if len(workflows) != 2 {
			t.Errorf("expected 2 workflows, got %d", len(workflows))
		}
	})

	t.Run("SaveAndListTriggers", func(t *testing.T) {
		trig := testTrigger("wf-1")
		if err := store.SaveTrigger(ctx, trig); err != nil {
			t.Fatalf("SaveTrigger failed: %v", err)
		}
		// 同键重复保存去重
		if err := store.SaveTrigger(ctx, trig); err != nil {
			t.Fatalf("SaveTrigger (dedup) failed: %v", err)
		}

		triggers, err := store.ListTriggers(ctx)
		if err != nil {
			t.Fatalf("ListTriggers failed: %v", err)
		}
		if len(triggers) != 1 {
			t.Fatalf("expected 1 trigger, got %d", len(triggers))
		}
		if triggers[0].Kind != types.TriggerCron || triggers[0].Cron.Schedule != "*/5 * * * *" {
			t.Errorf("trigger not round-tripped: %+v", triggers[0])
		}
	})

	t.Run("SaveInvalidTrigger", func(t *testing.T) {
		bad := &types.EventTrigger{Kind: types.TriggerCron, WorkflowID: "wf-1"}
		if err := store.SaveTrigger(ctx, bad); err == nil {
			t.Error("expected validation error for cron trigger without config")
		}
	})

	t.Run("DeleteTrigger", func(t *testing.T) {
		key := testTrigger("wf-1").Key()
		if err := store.DeleteTrigger(ctx, key); err != nil {
			t.Fatalf("DeleteTrigger failed: %v", err)
		}
		if err := store.DeleteTrigger(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("DeleteWorkflowCascades", func(t *testing.T) {
		if err := store.SaveTrigger(ctx, testTrigger("wf-2")); err != nil {
			t.Fatalf("SaveTrigger failed: %v", err)
		}

		if err := store.DeleteWorkflow(ctx, "wf-2"); err != nil {
			t.Fatalf("DeleteWorkflow failed: %v", err)
		}
		if _, err := store.GetWorkflow(ctx, "wf-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("workflow still present after delete: %v", err)
		}

		triggers, err := store.ListTriggers(ctx)
		if err != nil {
			t.Fatalf("ListTriggers failed: %v", err)
		}
		for _, trig := range triggers {
			if trig.WorkflowID == "wf-2" {
				t.Error("trigger not cascaded on workflow delete")
			}
		}
	})

	t.Run("DeleteWorkflowNotFound", func(t *testing.T) {
		if err := store.DeleteWorkflow(ctx, "no-such-workflow"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RecordAndGetRun", func(t *testing.T) {
		run := testRun("wf-1", types.StatusCompleted, time.Now().Add(-time.Minute))
		run.Result = map[string]any{"answer": "42"}
		run.AppendLog(types.WorkflowLogEntry{Level: 0, Agent: "root", Status: types.LogCompleted})

		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}

		got, err := store.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != types.StatusCompleted {
			t.Errorf("Status mismatch: got %s", got.Status)
		}
		if len(got.Log) != 1 {
			t.Errorf("Log not round-tripped: %d entries", len(got.Log))
		}
		if got.Result["answer"] != "42" {
			t.Errorf("Result not round-tripped: %+v", got.Result)
		}
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		if _, err := store.GetRun(ctx, "no-such-run"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListRunsFilters", func(t *testing.T) {
		base := time.Now().Add(-time.Hour)
		runs := []*types.WorkflowExecution{
			testRun("wf-1", types.StatusFailed, base.Add(1*time.Minute)),
			testRun("wf-1", types.StatusCompleted, base.Add(2*time.Minute)),
			testRun("wf-other", types.StatusCompleted, base.Add(3*time.Minute)),
		}
		for _, run := range runs {
			if err := store.RecordRun(ctx, run); err != nil {
				t.Fatalf("RecordRun failed: %v", err)
			}
		}

		byWorkflow, err := store.ListRuns(ctx, RunFilter{WorkflowID: "wf-other"})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(byWorkflow) != 1 {
			t.Errorf("expected 1 run for wf-other, got %d", len(byWorkflow))
		}

		failed, err := store.ListRuns(ctx, RunFilter{WorkflowID: "wf-1", Status: types.StatusFailed})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(failed) != 1 {
			t.Errorf("expected 1 failed run, got %d", len(failed))
		}

		limited, err := store.ListRuns(ctx, RunFilter{Limit: 2})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 runs with limit, got %d", len(limited))
		}
		// 倒序：最新的在前
		if len(limited) == 2 && limited[0].StartTime.Before(limited[1].StartTime) {
			t.Error("runs not ordered by start time descending")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.Stats(ctx, "wf-1")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalRuns < 3 {
			t.Errorf("expected at least 3 runs, got %d", stats.TotalRuns)
		}
		if stats.Failed != 1 {
			t.Errorf("expected 1 failed run, got %d", stats.Failed)
		}
		if stats.AvgDuration <= 0 {
			t.Errorf("expected positive avg duration, got %v", stats.AvgDuration)
		}
		if stats.LastRunAt == nil {
			t.Error("expected last run timestamp")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(DefaultConfig())
	defer store.Close()

	exerciseStore(t, store)

	t.Run("ClosedStoreRejectsOps", func(t *testing.T) {
		closed := NewMemoryStore(DefaultConfig())
		if err := closed.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := closed.Ping(context.Background()); !errors.Is(err, ErrStoreClosed) {
			t.Errorf("expected ErrStoreClosed, got %v", err)
		}
		if err := closed.SaveWorkflow(context.Background(), testWorkflow("wf-x")); !errors.Is(err, ErrStoreClosed) {
			t.Errorf("expected ErrStoreClosed, got %v", err)
		}
	})
}

func TestGormStoreSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	store, err := NewGormStoreWithDB(db, Config{Type: StoreTypeSQLite})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)

	t.Run("PurgeRuns", func(t *testing.T) {
		ctx := context.Background()
		old := testRun("wf-purge", types.StatusCompleted, time.Now().Add(-48*time.Hour))
		recent := testRun("wf-purge", types.StatusCompleted, time.Now())
		for _, run := range []*types.WorkflowExecution{old, recent} {
			if err := store.RecordRun(ctx, run); err != nil {
				t.Fatalf("RecordRun failed: %v", err)
			}
		}

		purged, err := store.PurgeRuns(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("PurgeRuns failed: %v", err)
		}
		if purged != 1 {
			t.Errorf("expected 1 purged run, got %d", purged)
		}
		if _, err := store.GetRun(ctx, old.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("old run should be purged, got %v", err)
		}
		if _, err := store.GetRun(ctx, recent.ID); err != nil {
			t.Errorf("recent run should survive purge: %v", err)
		}
	})
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name      string
		storeType StoreType
		wantErr   bool
	}{
		{"memory", StoreTypeMemory, false},
		{"empty defaults to memory", "", false},
		{"sqlite", StoreTypeSQLite, false},
		{"unknown", "cassandra", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Type = tt.storeType
			store, err := New(config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%s) error = %v, wantErr %v", tt.storeType, err, tt.wantErr)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}
