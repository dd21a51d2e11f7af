package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/levelflow/levelflow/engine"
	"github.com/levelflow/levelflow/provider"
	"github.com/levelflow/levelflow/storage"
	"github.com/levelflow/levelflow/trigger"
	"github.com/levelflow/levelflow/types"
)

// defaultHealthInterval 健康巡检的默认间隔。
const defaultHealthInterval = 30 * time.Second

// Config 编排器配置。
type Config struct {
	Storage  storage.Config  `json:"storage" yaml:"storage"`
	Provider provider.Config `json:"provider" yaml:"provider"`

	// LevelTimeout 引擎单层超时，零值取引擎默认
	LevelTimeout time.Duration `json:"level_timeout" yaml:"level_timeout"`

	// HealthInterval 健康巡检间隔，零值取默认 30s
	HealthInterval time.Duration `json:"health_interval" yaml:"health_interval"`

	// HealthMonitor 是否启动健康巡检
	HealthMonitor bool `json:"health_monitor" yaml:"health_monitor"`

	// Metrics 可选的引擎指标采集器
	Metrics engine.MetricsRecorder `json:"-" yaml:"-"`

	// Observer 可选的执行进度观察者（WebSocket 日志推送）
	Observer engine.ExecutionObserver `json:"-" yaml:"-"`
}

// Service 已初始化的服务集合：存储、引擎与触发器注册表。
// 由 Orchestrator 单飞构建，所有调用方共享同一实例。
type Service struct {
	Store    storage.Store
	Engine   *engine.Engine
	Registry *trigger.Registry

	logger *zap.Logger
}

// Status 编排器当前状态快照。
type Status struct {
	Initialized      bool          `json:"initialized"`
	ServiceAvailable bool          `json:"service_available"`
	HealthMonitoring bool          `json:"health_monitoring"`
	ActiveTriggers   int           `json:"active_triggers"`
	Uptime           time.Duration `json:"uptime"`
}

// Orchestrator 服务生命周期编排器。进程内构建一次，依赖注入到各入口；
// 初始化延迟到第一次 Get，并发调用只构建一次。
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	flight singleflight.Group

	mu        sync.RWMutex
	svc       *Service
	initAt    time.Time
	healthCh  chan struct{}
	healthRun bool

	// storeOverride 测试注入的预置存储，优先于配置构建
	storeOverride storage.Store

	healthy atomic.Bool
}

// NewOrchestrator 创建编排器，不触发任何初始化。
func NewOrchestrator(cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "orchestrator")),
	}
}

// Get 返回已初始化的服务，必要时执行单飞初始化。
// 初始化失败会传播给本轮所有等待者，且不缓存任何半成品状态，
// 下一次调用重新尝试。
func (o *Orchestrator) Get(ctx context.Context) (*Service, error) {
	o.mu.RLock()
	svc := o.svc
	o.mu.RUnlock()
	if svc != nil {
		return svc, nil
	}

	v, err, _ := o.flight.Do("init", func() (any, error) {
		// 双检：上一轮单飞可能已经完成
		o.mu.RLock()
		existing := o.svc
		o.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		return o.initialize(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Service), nil
}

// initialize 构建全部协作者并重新布防持久化的触发器。
func (o *Orchestrator) initialize(ctx context.Context) (*Service, error) {
	start := time.Now()
	o.logger.Info("service initialization started")

	store := o.storeOverride
	if store == nil {
		var err error
		store, err = storage.New(o.cfg.Storage)
		if err != nil {
			return nil, types.WrapError(types.ErrInitFailed, "create storage", err)
		}
	}

	prov := provider.NewHTTPProvider(o.cfg.Provider, o.logger)
	eng := engine.New(prov, store, o.logger, engine.Options{
		LevelTimeout: o.cfg.LevelTimeout,
		Metrics:      o.cfg.Metrics,
		Observer:     o.cfg.Observer,
	})

	registry, err := trigger.NewRegistry(o.logger)
	if err != nil {
		store.Close()
		return nil, types.WrapError(types.ErrInitFailed, "create trigger registry", err)
	}

	svc := &Service{
		Store:    store,
		Engine:   eng,
		Registry: registry,
		logger:   o.logger,
	}

	if err := registry.StartAll(ctx); err != nil {
		store.Close()
		return nil, types.WrapError(types.ErrInitFailed, "start trigger adapters", err)
	}

	if err := o.rearmTriggers(ctx, svc); err != nil {
		registry.StopAll(ctx)
		store.Close()
		return nil, err
	}

	o.mu.Lock()
	o.svc = svc
	o.initAt = time.Now()
	o.mu.Unlock()
	o.healthy.Store(true)

	if o.cfg.HealthMonitor {
		o.startHealthMonitor()
	}

	o.logger.Info("service initialized",
		zap.Duration("took", time.Since(start)),
		zap.Int("active_triggers", registry.ActiveCount()),
	)
	return svc, nil
}

// rearmTriggers 服务启动时把持久化的触发器重新注册到适配器。
// 所属工作流已删除或禁用的注册按残留清理，不算失败。
func (o *Orchestrator) rearmTriggers(ctx context.Context, svc *Service) error {
	triggers, err := svc.Store.ListTriggers(ctx)
	if err != nil {
		return types.WrapError(types.ErrInitFailed, "list persisted triggers", err)
	}

	rearmed := 0
	for _, t := range triggers {
		wf, err := svc.Store.GetWorkflow(ctx, t.WorkflowID)
		if err == storage.ErrNotFound {
			o.logger.Warn("dropping orphaned trigger registration",
				zap.String("key", t.Key()),
				zap.String("workflow_id", t.WorkflowID),
			)
			svc.Store.DeleteTrigger(ctx, t.Key())
			continue
		}
		if err != nil {
			return types.WrapError(types.ErrInitFailed, "load workflow for trigger "+t.Key(), err)
		}
		if !wf.Enabled {
			continue
		}

		if err := svc.Registry.Register(t, svc.executeCallback()); err != nil {
			return types.WrapError(types.ErrInitFailed, "re-register trigger "+t.Key(), err)
		}
		rearmed++
	}

	if rearmed > 0 {
		o.logger.Info("triggers re-armed", zap.Int("count", rearmed))
	}
	return nil
}

// executeCallback 触发器命中后的执行入口：查工作流、跑引擎。
func (s *Service) executeCallback() trigger.Callback {
	return func(ctx context.Context, event *types.Event) (*types.WorkflowExecution, error) {
		workflowID := event.WorkflowID()
		if workflowID == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "event has no workflow binding")
		}

		wf, err := s.Store.GetWorkflow(ctx, workflowID)
		if err == storage.ErrNotFound {
			return nil, types.NewError(types.ErrWorkflowNotFound, "workflow "+workflowID+" not found")
		}
		if err != nil {
			return nil, types.WrapError(types.ErrStorageFailed, "load workflow "+workflowID, err)
		}
		if !wf.Enabled {
			return nil, types.NewError(types.ErrInvalidRequest, "workflow "+workflowID+" is disabled")
		}

		return s.Engine.Execute(ctx, wf, event)
	}
}

// ExecuteWorkflow 按需同步执行一个工作流，不依赖触发器绑定：
// 绑定了 cron/watch/webhook 触发器的工作流同样可以通过 API 手动执行。
func (s *Service) ExecuteWorkflow(ctx context.Context, workflowID string, data map[string]any) (*types.WorkflowExecution, error) {
	event := types.NewEvent(types.TriggerManual, "api", data).
		WithMetadata(types.MetaWorkflowID, workflowID)
	return s.executeCallback()(ctx, event)
}

// RegisterTrigger 校验、注册并持久化一个触发器绑定。
// 持久化失败时回滚适配器注册，不留半注册状态。
func (s *Service) RegisterTrigger(ctx context.Context, t *types.EventTrigger) error {
	if err := t.Validate(); err != nil {
		return err
	}

	wf, err := s.Store.GetWorkflow(ctx, t.WorkflowID)
	if err == storage.ErrNotFound {
		return types.NewError(types.ErrWorkflowNotFound, "workflow "+t.WorkflowID+" not found")
	}
	if err != nil {
		return types.WrapError(types.ErrStorageFailed, "load workflow", err)
	}
	if !wf.Enabled {
		return types.NewError(types.ErrInvalidRequest, "cannot arm trigger on disabled workflow")
	}

	if err := s.Registry.Register(t, s.executeCallback()); err != nil {
		return err
	}
	if err := s.Store.SaveTrigger(ctx, t); err != nil {
		s.Registry.Unregister(t)
		return types.WrapError(types.ErrStorageFailed, "persist trigger", err)
	}
	return nil
}

// UnregisterTrigger 撤销一个触发器绑定并移除持久化记录。
func (s *Service) UnregisterTrigger(ctx context.Context, t *types.EventTrigger) error {
	if err := s.Registry.Unregister(t); err != nil {
		return err
	}
	if err := s.Store.DeleteTrigger(ctx, t.Key()); err != nil && err != storage.ErrNotFound {
		return types.WrapError(types.ErrStorageFailed, "remove persisted trigger", err)
	}
	return nil
}

// startHealthMonitor 启动健康巡检循环。重复调用无副作用。
func (o *Orchestrator) startHealthMonitor() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.healthRun {
		return
	}
	o.healthCh = make(chan struct{})
	o.healthRun = true
	go o.healthLoop(o.healthCh)
}

func (o *Orchestrator) healthLoop(stop chan struct{}) {
	interval := o.cfg.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.checkHealth()
		}
	}
}

// checkHealth 巡检存储连通性。失败只记录并翻转可用标记，从不崩溃。
func (o *Orchestrator) checkHealth() {
	o.mu.RLock()
	svc := o.svc
	o.mu.RUnlock()
	if svc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.Store.Ping(ctx); err != nil {
		if o.healthy.Swap(false) {
			o.logger.Error("health check failed", zap.Error(err))
		}
		return
	}
	if !o.healthy.Swap(true) {
		o.logger.Info("health restored")
	}
}

// Healthy 报告最近一次巡检的结果。
func (o *Orchestrator) Healthy() bool {
	return o.healthy.Load()
}

// Status 返回编排器状态快照。
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		Initialized:      o.svc != nil,
		ServiceAvailable: o.svc != nil && o.healthy.Load(),
		HealthMonitoring: o.healthRun,
	}
	if o.svc != nil {
		st.ActiveTriggers = o.svc.Registry.ActiveCount()
		st.Uptime = time.Since(o.initAt)
	}
	return st
}

// Shutdown 优雅关闭：停巡检、停触发器、关存储、清空单例状态。
// 幂等，未初始化时直接成功；关闭后可再次 Get 重新初始化。
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	svc := o.svc
	o.svc = nil
	if o.healthRun {
		close(o.healthCh)
		o.healthRun = false
	}
	o.mu.Unlock()

	if svc == nil {
		return nil
	}

	o.logger.Info("service shutdown started")
	o.healthy.Store(false)

	var firstErr error
	if err := svc.Registry.StopAll(ctx); err != nil {
		o.logger.Error("stopping trigger adapters failed", zap.Error(err))
		firstErr = err
	}
	if err := svc.Store.Close(); err != nil {
		o.logger.Error("closing storage failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fmt.Errorf("shutdown incomplete: %w", firstErr)
	}
	o.logger.Info("service shutdown complete")
	return nil
}
