// Package provider 实现 Agent 的模型调用边界。
//
// HTTPProvider 走 OpenAI 兼容的 chat completions 协议，适配
// OpenAI / DeepSeek / Qwen / GLM 等所有兼容端点；token 用量
// 优先取响应内的 usage，缺失时用 tiktoken 本地估算。
package provider
