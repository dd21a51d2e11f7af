package types

import (
	"testing"
	"time"
)

func TestExecutionStatus_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to ExecutionStatus
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusRunning, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestWorkflowExecution_Transition(t *testing.T) {
	t.Parallel()

	exec := NewWorkflowExecution("wf-1", NewEvent(TriggerManual, "manual", map[string]any{"x": 1}))

	if exec.Status != StatusPending {
		t.Fatalf("new execution should be pending, got %s", exec.Status)
	}
	if exec.ID == "" {
		t.Fatal("execution must get a generated id")
	}

	if err := exec.Transition(StatusRunning); err != nil {
		t.Fatalf("pending -> running should succeed: %v", err)
	}
	if exec.EndTime != nil {
		t.Fatal("running execution must not have an end time")
	}

	if err := exec.Transition(StatusPending); err == nil {
		t.Fatal("running -> pending must be rejected")
	}

	if err := exec.Transition(StatusCompleted); err != nil {
		t.Fatalf("running -> completed should succeed: %v", err)
	}
	if exec.EndTime == nil {
		t.Fatal("terminal execution must have an end time")
	}

	if err := exec.Transition(StatusRunning); err == nil {
		t.Fatal("terminal state must be final")
	}
}

func TestWorkflowExecution_CancelFlag(t *testing.T) {
	t.Parallel()

	exec := NewWorkflowExecution("wf-1", nil)
	if exec.CancelRequested() {
		t.Fatal("fresh execution should not be cancelled")
	}
	exec.RequestCancel()
	if !exec.CancelRequested() {
		t.Fatal("cancel flag should be observable after RequestCancel")
	}
}

func TestWorkflowExecution_AppendLog(t *testing.T) {
	t.Parallel()

	exec := NewWorkflowExecution("wf-1", nil)
	exec.AppendLog(WorkflowLogEntry{Level: 0, Agent: "root", Status: LogCompleted})
	exec.AppendLog(WorkflowLogEntry{Level: 1, Status: LogSkipped, Timestamp: time.Unix(100, 0)})

	if len(exec.Log) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(exec.Log))
	}
	if exec.Log[0].Timestamp.IsZero() {
		t.Error("missing timestamp should be filled in")
	}
	if !exec.Log[1].Timestamp.Equal(time.Unix(100, 0)) {
		t.Error("explicit timestamp should be preserved")
	}
}

func TestEvent_Immutability(t *testing.T) {
	t.Parallel()

	ev := NewEvent(TriggerCron, "cron:* * * * *", nil)
	ev2 := ev.WithMetadata(MetaWorkflowID, "wf-9")

	if len(ev.Metadata) != 0 {
		t.Fatal("WithMetadata must not mutate the original event")
	}
	if ev2.WorkflowID() != "wf-9" {
		t.Fatalf("expected workflow id wf-9, got %q", ev2.WorkflowID())
	}
	if ev.ID != ev2.ID {
		t.Fatal("metadata copy must keep the event id")
	}
}
