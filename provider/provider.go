package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// Config OpenAI 兼容端点的连接配置。
type Config struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HTTPProvider calls any OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	cfg       Config
	client    *http.Client
	logger    *zap.Logger
	estimator *TokenEstimator
}

// NewHTTPProvider creates a new provider instance.
func NewHTTPProvider(cfg Config, logger *zap.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	return &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:    logger.With(zap.String("component", "provider")),
		estimator: NewTokenEstimator(cfg.Model),
	}
}

// OpenAI-compatible wire types
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type chatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Execute 执行单个 Agent：输入载荷序列化为用户消息，
// 返回的 AgentResponse 中 Data 为模型输出（JSON 对象输出直接展开）。
func (p *HTTPProvider) Execute(ctx context.Context, agent types.AgentConfig, input map[string]any) (*types.AgentResponse, error) {
	model := agent.Model
	if model == "" {
		model = p.cfg.Model
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "marshal agent input", err)
	}

	messages := make([]chatMessage, 0, 2)
	if agent.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: agent.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: string(payload)})

	req := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}

	start := time.Now()
	resp, err := p.doRequest(ctx, &req)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return &types.AgentResponse{
			AgentID: agent.ID,
			Success: false,
			Error:   "model returned no choices",
		}, nil
	}

	choice := resp.Choices[0]
	usage := p.usage(resp, messages, choice.Message.Content)

	p.logger.Debug("agent completed",
		zap.String("agent_id", agent.ID),
		zap.String("model", model),
		zap.String("finish_reason", choice.FinishReason),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Duration("latency", latency),
	)

	return &types.AgentResponse{
		AgentID:  agent.ID,
		Success:  choice.Message.Content != "",
		Data:     parseContent(choice.Message.Content),
		Metadata: usageMetadata(resp, usage, latency),
		Duration: latency,
	}, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "marshal request", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "call model endpoint", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "read response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp chatErrorResp
		msg := string(raw)
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		perr := types.NewError(types.ErrProviderFailed,
			fmt.Sprintf("model endpoint returned %d: %s", httpResp.StatusCode, msg))
		// 429 与 5xx 可由上层重试
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			perr.Retryable = true
		}
		return nil, perr
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "decode response", err)
	}
	return &resp, nil
}

// usage 优先取响应内的 usage，缺失时本地估算。
func (p *HTTPProvider) usage(resp *chatResponse, messages []chatMessage, completion string) chatUsage {
	if resp.Usage != nil {
		return *resp.Usage
	}

	var prompt strings.Builder
	for _, m := range messages {
		prompt.WriteString(m.Content)
	}
	promptTokens := p.estimator.Estimate(prompt.String())
	completionTokens := p.estimator.Estimate(completion)
	return chatUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

func usageMetadata(resp *chatResponse, usage chatUsage, latency time.Duration) map[string]any {
	return map[string]any{
		"model":             resp.Model,
		"response_id":       resp.ID,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"latency_ms":        latency.Milliseconds(),
	}
}

// parseContent 模型输出若是 JSON 对象则直接展开为结构化数据，
// 否则整体作为 content 字段。条件表达式依赖展开后的字段。
func parseContent(content string) map[string]any {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"content": content}
}
