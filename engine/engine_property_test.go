package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/levelflow/levelflow/types"
)

// spanProvider 记录每个 Agent 调用的起止时间与所在层级。
type spanProvider struct {
	mu    sync.Mutex
	spans []agentSpan
}

type agentSpan struct {
	agentID string
	start   time.Time
	end     time.Time
}

func (p *spanProvider) Execute(ctx context.Context, agent types.AgentConfig, input map[string]any) (*types.AgentResponse, error) {
	start := time.Now()
	time.Sleep(time.Millisecond)
	end := time.Now()

	p.mu.Lock()
	p.spans = append(p.spans, agentSpan{agentID: agent.ID, start: start, end: end})
	p.mu.Unlock()

	return &types.AgentResponse{AgentID: agent.ID, Success: true}, nil
}

// 层级严格升序、前后不重叠：任意层级组合下，层 N 的所有 Agent
// 必须在层 N+1 的任何 Agent 开始前结束。
func TestEngine_LevelOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		levelCount := rapid.IntRange(1, 4).Draw(t, "levels")

		levels := make([]types.AgentLevel, 0, levelCount)
		agentLevel := make(map[string]int)
		agentLevel["root"] = 0

		for i := 1; i <= levelCount; i++ {
			agentCount := rapid.IntRange(1, 3).Draw(t, fmt.Sprintf("agents_%d", i))
			mode := types.ModeParallel
			if rapid.Bool().Draw(t, fmt.Sprintf("seq_%d", i)) {
				mode = types.ModeConditional
			}

			agents := make([]types.AgentConfig, 0, agentCount)
			for j := 0; j < agentCount; j++ {
				id := fmt.Sprintf("agent-%d-%d", i, j)
				agents = append(agents, agent(id))
				agentLevel[id] = i
			}

			level := types.AgentLevel{Level: i, Mode: mode, Agents: agents}
			if mode == types.ModeConditional {
				level.Condition = "true"
			}
			levels = append(levels, level)
		}

		wf := &types.WorkflowConfig{
			ID:        "wf-prop",
			Name:      "ordering",
			RootAgent: agent("root"),
			Levels:    levels,
		}
		if err := wf.Validate(); err != nil {
			t.Fatalf("generated workflow invalid: %v", err)
		}

		provider := &spanProvider{}
		eng := New(provider, nil, zap.NewNop(), Options{})

		exec, err := eng.Execute(context.Background(), wf, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if exec.Status != types.StatusCompleted {
			t.Fatalf("status = %s, want completed", exec.Status)
		}

		// 每个 Agent 恰好执行一次
		if len(provider.spans) != len(agentLevel) {
			t.Fatalf("span count = %d, want %d", len(provider.spans), len(agentLevel))
		}

		// 低层级的结束时间不晚于高层级的开始时间
		for _, a := range provider.spans {
			for _, b := range provider.spans {
				if agentLevel[a.agentID] < agentLevel[b.agentID] && a.end.After(b.start) {
					t.Fatalf("agent %s (level %d) ended at %v after agent %s (level %d) started at %v",
						a.agentID, agentLevel[a.agentID], a.end,
						b.agentID, agentLevel[b.agentID], b.start)
				}
			}
		}
	})
}
