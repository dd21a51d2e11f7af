package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// CronAdapter 定时触发适配器，基于 robfig/cron 的标准 5 段表达式。
// 注册前先做表达式语法校验，时区缺省为 UTC。
type CronAdapter struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]*cronRegistration // trigger key -> registration
	logger  *zap.Logger
	started bool
	stopped bool
}

type cronRegistration struct {
	id      string
	trigger *types.EventTrigger
	entryID cron.EntryID
}

// NewCronAdapter 创建定时触发适配器。
func NewCronAdapter(logger *zap.Logger) *CronAdapter {
	return &CronAdapter{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		entries: make(map[string]*cronRegistration),
		logger:  logger.With(zap.String("component", "trigger_cron")),
	}
}

func (a *CronAdapter) Kind() types.TriggerKind { return types.TriggerCron }

// cronSpec 把可选时区编入 robfig 的 CRON_TZ 前缀。
func cronSpec(cfg *types.CronConfig) string {
	if cfg.Timezone == "" {
		return cfg.Schedule
	}
	return "CRON_TZ=" + cfg.Timezone + " " + cfg.Schedule
}

// ValidateSchedule 校验表达式语法与时区名。注册与工作流保存共用。
func ValidateSchedule(cfg *types.CronConfig) error {
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return types.WrapError(types.ErrInvalidTrigger,
				"unknown timezone "+cfg.Timezone, err)
		}
	}
	if _, err := cron.ParseStandard(cronSpec(cfg)); err != nil {
		return types.WrapError(types.ErrInvalidTrigger,
			"invalid cron schedule "+cfg.Schedule, err)
	}
	return nil
}

// Register 校验表达式并调度定时任务。校验失败时不留下任何任务。
func (a *CronAdapter) Register(t *types.EventTrigger, cb Callback) error {
	if err := checkKind(a, t); err != nil {
		return err
	}
	if err := ValidateSchedule(t.Cron); err != nil {
		return err
	}
	if cb == nil {
		return types.NewError(types.ErrInvalidTrigger, "cron trigger requires a callback")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return types.NewError(types.ErrAdapterStopped, "cron adapter is stopped")
	}

	reg := &cronRegistration{
		id:      uuid.New().String(),
		trigger: t,
	}

	entryID, err := a.cron.AddFunc(cronSpec(t.Cron), func() {
		a.fire(reg, cb)
	})
	if err != nil {
		// 语法已预校验，这里只会因时区加载等环境问题失败
		return types.WrapError(types.ErrInvalidTrigger, "schedule cron job", err)
	}
	reg.entryID = entryID
	a.entries[t.Key()] = reg

	a.logger.Info("cron trigger registered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
		zap.String("schedule", t.Cron.Schedule),
		zap.String("timezone", t.Cron.Timezone),
	)
	return nil
}

// fire 构造事件并调用回调。回调错误记录后吞掉，任务保持调度。
func (a *CronAdapter) fire(reg *cronRegistration, cb Callback) {
	t := reg.trigger
	event := types.NewEvent(types.TriggerCron, "cron:"+t.Cron.Schedule, map[string]any{
		"schedule": t.Cron.Schedule,
		"fired_at": time.Now().Format(time.RFC3339),
	}).
		WithMetadata(types.MetaWorkflowID, t.WorkflowID).
		WithMetadata(types.MetaRegistrationID, reg.id)

	if _, err := cb(context.Background(), event); err != nil {
		a.logger.Error("cron trigger callback failed",
			zap.String("registration_id", reg.id),
			zap.String("workflow_id", t.WorkflowID),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return
	}
	a.logger.Debug("cron trigger fired",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
		zap.String("event_id", event.ID),
	)
}

// Unregister 停掉匹配的定时任务。不存在时记录警告并返回 nil。
func (a *CronAdapter) Unregister(t *types.EventTrigger) error {
	if t == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg, ok := a.entries[t.Key()]
	if !ok {
		a.logger.Warn("unregister: no cron job found",
			zap.String("workflow_id", t.WorkflowID),
			zap.String("key", t.Key()))
		return nil
	}

	a.cron.Remove(reg.entryID)
	delete(a.entries, t.Key())

	a.logger.Info("cron trigger unregistered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
	)
	return nil
}

// Start 启动 cron 调度器。重复调用无效果。
func (a *CronAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started || a.stopped {
		return nil
	}
	a.started = true
	a.cron.Start()
	a.logger.Info("cron adapter started")
	return nil
}

// Stop 停止调度器并撤销全部注册，等待在途任务结束。幂等。
func (a *CronAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	for key, reg := range a.entries {
		a.cron.Remove(reg.entryID)
		delete(a.entries, key)
	}
	a.mu.Unlock()

	// cron.Stop 返回的 context 在所有在途任务完成后关闭
	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		a.logger.Warn("cron adapter stop timed out waiting for running jobs")
	}
	a.logger.Info("cron adapter stopped")
	return nil
}

// Active 返回当前调度中的注册数。
func (a *CronAdapter) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
