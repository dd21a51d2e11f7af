package trigger

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// writeDebounce 同一文件连续写事件的去抖窗口。
// 编辑器保存往往触发多次 Write，窗口内只触发一次。
const writeDebounce = 100 * time.Millisecond

// WatchAdapter 文件系统监听适配器，基于 fsnotify。
// 按注册时声明的事件种类集合过滤（created / modified / deleted），
// 忽略隐藏文件（点号开头）。
type WatchAdapter struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	regs      map[string]*watchRegistration // trigger key -> registration
	pathRefs  map[string]int                // watched path -> registration count
	lastWrite map[string]time.Time          // file path -> last write fire
	logger    *zap.Logger
	done      chan struct{}
	started   bool
	stopped   bool
}

type watchRegistration struct {
	id       string
	trigger  *types.EventTrigger
	callback Callback
}

// NewWatchAdapter 创建文件监听适配器。
func NewWatchAdapter(logger *zap.Logger) (*WatchAdapter, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, types.WrapError(types.ErrInternalError, "create fsnotify watcher", err)
	}
	return &WatchAdapter{
		watcher:   watcher,
		regs:      make(map[string]*watchRegistration),
		pathRefs:  make(map[string]int),
		lastWrite: make(map[string]time.Time),
		logger:    logger.With(zap.String("component", "trigger_watch")),
		done:      make(chan struct{}),
	}, nil
}

func (a *WatchAdapter) Kind() types.TriggerKind { return types.TriggerWatch }

// Register 校验配置并把路径加入监听。路径不存在时同步失败，
// 不留下任何监听状态。
func (a *WatchAdapter) Register(t *types.EventTrigger, cb Callback) error {
	if err := checkKind(a, t); err != nil {
		return err
	}
	if cb == nil {
		return types.NewError(types.ErrInvalidTrigger, "watch trigger requires a callback")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return types.NewError(types.ErrAdapterStopped, "watch adapter is stopped")
	}

	path := t.Watch.Path
	if a.pathRefs[path] == 0 {
		if err := a.watcher.Add(path); err != nil {
			return types.WrapError(types.ErrInvalidTrigger, "watch path "+path, err)
		}
	}
	a.pathRefs[path]++

	reg := &watchRegistration{
		id:       uuid.New().String(),
		trigger:  t,
		callback: cb,
	}
	a.regs[t.Key()] = reg

	a.logger.Info("watch trigger registered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
		zap.String("path", path),
		zap.String("pattern", t.Watch.Pattern),
	)
	return nil
}

// Unregister 撤销监听注册。最后一个引用移除时停掉底层路径监听。
// 找不到匹配项时记录警告并返回 nil。
func (a *WatchAdapter) Unregister(t *types.EventTrigger) error {
	if t == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg, ok := a.regs[t.Key()]
	if !ok {
		a.logger.Warn("unregister: no watch registration found",
			zap.String("workflow_id", t.WorkflowID),
			zap.String("key", t.Key()))
		return nil
	}

	delete(a.regs, t.Key())
	path := reg.trigger.Watch.Path
	a.pathRefs[path]--
	if a.pathRefs[path] <= 0 {
		delete(a.pathRefs, path)
		if err := a.watcher.Remove(path); err != nil {
			a.logger.Warn("remove watch path failed",
				zap.String("path", path), zap.Error(err))
		}
	}

	a.logger.Info("watch trigger unregistered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
	)
	return nil
}

// Start 启动事件循环。重复调用无效果。
func (a *WatchAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started || a.stopped {
		return nil
	}
	a.started = true
	go a.loop()
	a.logger.Info("watch adapter started")
	return nil
}

func (a *WatchAdapter) loop() {
	for {
		select {
		case <-a.done:
			return

		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handle(ev)

		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// mapOp 把 fsnotify 操作映射到规范事件种类。Chmod 与未知操作被忽略。
func mapOp(op fsnotify.Op) (types.WatchEvent, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return types.WatchCreated, true
	case op.Has(fsnotify.Write):
		return types.WatchModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return types.WatchDeleted, true
	}
	return "", false
}

func (a *WatchAdapter) handle(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	kind, ok := mapOp(ev.Op)
	if !ok {
		return
	}

	a.mu.Lock()
	if kind == types.WatchModified {
		now := time.Now()
		if last, seen := a.lastWrite[ev.Name]; seen && now.Sub(last) < writeDebounce {
			a.mu.Unlock()
			return
		}
		// 顺手清掉窗口外的旧条目，长期监听高频目录时映射不无限增长
		for name, last := range a.lastWrite {
			if now.Sub(last) >= writeDebounce {
				delete(a.lastWrite, name)
			}
		}
		a.lastWrite[ev.Name] = now
	}
	// 只读快照，回调在锁外进行
	matched := make([]*watchRegistration, 0, 2)
	for _, reg := range a.regs {
		if a.matches(reg, ev.Name, kind) {
			matched = append(matched, reg)
		}
	}
	a.mu.Unlock()

	for _, reg := range matched {
		go a.fire(reg, ev.Name, kind)
	}
}

// matches 按路径归属、事件种类集合与可选 glob 过滤。
func (a *WatchAdapter) matches(reg *watchRegistration, name string, kind types.WatchEvent) bool {
	cfg := reg.trigger.Watch

	if name != cfg.Path && !strings.HasPrefix(name, cfg.Path+string(filepath.Separator)) {
		return false
	}

	found := false
	for _, want := range cfg.Events {
		if want == kind {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if cfg.Pattern != "" {
		ok, err := filepath.Match(cfg.Pattern, filepath.Base(name))
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// fire 构造事件并调用回调。回调错误记录后吞掉，监听保持活跃。
func (a *WatchAdapter) fire(reg *watchRegistration, name string, kind types.WatchEvent) {
	t := reg.trigger
	event := types.NewEvent(types.TriggerWatch, "watch:"+t.Watch.Path, map[string]any{
		"eventType": string(kind),
		"path":      name,
	}).
		WithMetadata(types.MetaWorkflowID, t.WorkflowID).
		WithMetadata(types.MetaRegistrationID, reg.id).
		WithMetadata(types.MetaWatchPath, t.Watch.Path)

	if _, err := reg.callback(context.Background(), event); err != nil {
		a.logger.Error("watch trigger callback failed",
			zap.String("registration_id", reg.id),
			zap.String("workflow_id", t.WorkflowID),
			zap.String("event_id", event.ID),
			zap.String("file", name),
			zap.Error(err),
		)
		return
	}
	a.logger.Debug("watch trigger fired",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
		zap.String("file", name),
		zap.String("event_type", string(kind)),
	)
}

// Stop 关闭监听循环并撤销全部注册。幂等。
func (a *WatchAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true
	close(a.done)

	n := len(a.regs)
	a.regs = make(map[string]*watchRegistration)
	a.pathRefs = make(map[string]int)

	if err := a.watcher.Close(); err != nil {
		a.logger.Warn("close watcher failed", zap.Error(err))
	}
	a.logger.Info("watch adapter stopped", zap.Int("dropped_registrations", n))
	return nil
}

// Active 返回当前活跃注册数。
func (a *WatchAdapter) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regs)
}
