package types

import "testing"

func TestEventTrigger_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		trigger *EventTrigger
		wantErr bool
	}{
		{
			name:    "manual ok",
			trigger: &EventTrigger{Kind: TriggerManual, WorkflowID: "wf-1"},
		},
		{
			name:    "missing workflow id",
			trigger: &EventTrigger{Kind: TriggerManual},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			trigger: &EventTrigger{Kind: "smoke-signal", WorkflowID: "wf-1"},
			wantErr: true,
		},
		{
			name:    "cron without schedule",
			trigger: &EventTrigger{Kind: TriggerCron, WorkflowID: "wf-1", Cron: &CronConfig{}},
			wantErr: true,
		},
		{
			name:    "cron ok",
			trigger: &EventTrigger{Kind: TriggerCron, WorkflowID: "wf-1", Cron: &CronConfig{Schedule: "*/5 * * * *"}},
		},
		{
			name:    "watch without path",
			trigger: &EventTrigger{Kind: TriggerWatch, WorkflowID: "wf-1", Watch: &WatchConfig{Events: []WatchEvent{WatchModified}}},
			wantErr: true,
		},
		{
			name:    "watch with empty event set",
			trigger: &EventTrigger{Kind: TriggerWatch, WorkflowID: "wf-1", Watch: &WatchConfig{Path: "/tmp/watched"}},
			wantErr: true,
		},
		{
			name:    "watch with unknown event kind",
			trigger: &EventTrigger{Kind: TriggerWatch, WorkflowID: "wf-1", Watch: &WatchConfig{Path: "/tmp/watched", Events: []WatchEvent{"renamed"}}},
			wantErr: true,
		},
		{
			name:    "watch ok",
			trigger: &EventTrigger{Kind: TriggerWatch, WorkflowID: "wf-1", Watch: &WatchConfig{Path: "/tmp/watched", Events: []WatchEvent{WatchCreated, WatchModified}}},
		},
		{
			name:    "webhook without endpoint",
			trigger: &EventTrigger{Kind: TriggerWebhook, WorkflowID: "wf-1", Webhook: &WebhookConfig{}},
			wantErr: true,
		},
		{
			name:    "webhook relative endpoint",
			trigger: &EventTrigger{Kind: TriggerWebhook, WorkflowID: "wf-1", Webhook: &WebhookConfig{Endpoint: "hooks/x"}},
			wantErr: true,
		},
		{
			name:    "webhook bad method",
			trigger: &EventTrigger{Kind: TriggerWebhook, WorkflowID: "wf-1", Webhook: &WebhookConfig{Endpoint: "/hooks/x", Method: "BREW"}},
			wantErr: true,
		},
		{
			name:    "webhook ok",
			trigger: &EventTrigger{Kind: TriggerWebhook, WorkflowID: "wf-1", Webhook: &WebhookConfig{Endpoint: "/hooks/x", Method: "POST"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.trigger.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && GetErrorCode(err) != ErrInvalidTrigger {
				t.Errorf("expected INVALID_TRIGGER code, got %s", GetErrorCode(err))
			}
		})
	}
}

func TestEventTrigger_Key(t *testing.T) {
	t.Parallel()

	a := &EventTrigger{Kind: TriggerCron, WorkflowID: "wf-1", Cron: &CronConfig{Schedule: "* * * * *"}}
	b := &EventTrigger{Kind: TriggerCron, WorkflowID: "wf-1", Cron: &CronConfig{Schedule: "* * * * *", Timezone: "UTC"}}
	c := &EventTrigger{Kind: TriggerCron, WorkflowID: "wf-2", Cron: &CronConfig{Schedule: "* * * * *"}}

	if a.Key() != b.Key() {
		t.Error("same workflow and schedule should produce the same key")
	}
	if a.Key() == c.Key() {
		t.Error("different workflows must not collide")
	}
}
