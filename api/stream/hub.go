package stream

import (
	"sync"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// subscriberBuffer 单个订阅者的事件通道容量。慢速订阅者会丢事件，
// 不会阻塞执行 goroutine。
const subscriberBuffer = 64

// EventType 推送事件类型
type EventType string

const (
	// EventLog 一条新的执行日志
	EventLog EventType = "log"
	// EventFinished 执行进入终态
	EventFinished EventType = "finished"
)

// Event 推送给订阅者的事件
type Event struct {
	Type        EventType               `json:"type"`
	ExecutionID string                  `json:"execution_id"`
	Entry       *types.WorkflowLogEntry `json:"entry,omitempty"`
	Status      types.ExecutionStatus   `json:"status,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// execState 单个在途执行的缓冲与订阅者集合
type execState struct {
	buffer   []Event
	subs     map[int]chan Event
	nextSub  int
	finished bool
}

// Hub 执行进度的扇出枢纽。实现 engine.ExecutionObserver：
// 引擎每追加一条日志就进入缓冲并推给全部订阅者；订阅时回放缓冲，
// 晚连接的客户端不丢已发生的条目。终态事件后该执行的状态被清除。
type Hub struct {
	mu     sync.Mutex
	active map[string]*execState
	logger *zap.Logger
}

// NewHub 创建扇出枢纽
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		active: make(map[string]*execState),
		logger: logger.With(zap.String("component", "stream_hub")),
	}
}

func (h *Hub) state(executionID string) *execState {
	st, ok := h.active[executionID]
	if !ok {
		st = &execState{subs: make(map[int]chan Event)}
		h.active[executionID] = st
	}
	return st
}

// OnLogEntry 实现 engine.ExecutionObserver
func (h *Hub) OnLogEntry(executionID string, entry types.WorkflowLogEntry) {
	h.publish(executionID, Event{
		Type:        EventLog,
		ExecutionID: executionID,
		Entry:       &entry,
	}, false)
}

// OnFinished 实现 engine.ExecutionObserver
func (h *Hub) OnFinished(exec *types.WorkflowExecution) {
	h.publish(exec.ID, Event{
		Type:        EventFinished,
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Error:       exec.Error,
	}, true)
}

func (h *Hub) publish(executionID string, ev Event, terminal bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.state(executionID)
	st.buffer = append(st.buffer, ev)
	if terminal {
		st.finished = true
	}

	for id, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者跟不上，断开它
			h.logger.Warn("dropping slow stream subscriber",
				zap.String("execution_id", executionID),
				zap.Int("subscriber", id),
			)
			close(ch)
			delete(st.subs, id)
		}
	}

	// 终态：关闭余下订阅者通道并清除该执行的状态
	if terminal {
		for id, ch := range st.subs {
			close(ch)
			delete(st.subs, id)
		}
		delete(h.active, executionID)
	}
}

// Subscribe 订阅一个执行的进度。返回的通道先回放缓冲中的历史事件，
// 终态事件发出后由 Hub 关闭。cancel 幂等，调用后通道不再收到事件。
// 执行未知时订阅依旧成立，等它开始后事件照常到达。
func (h *Hub) Subscribe(executionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.state(executionID)

	ch := make(chan Event, len(st.buffer)+subscriberBuffer)
	for _, ev := range st.buffer {
		ch <- ev
	}

	if st.finished {
		close(ch)
		if len(st.subs) == 0 {
			delete(h.active, executionID)
		}
		return ch, func() {}
	}

	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := st.subs[id]; ok {
			close(cur)
			delete(st.subs, id)
		}
		if st.finished && len(st.subs) == 0 {
			delete(h.active, executionID)
		}
	}
	return ch, cancel
}

// Active 返回当前跟踪中的执行数（测试用）
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}
