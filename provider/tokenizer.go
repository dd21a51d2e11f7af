package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings 将模型名映射到 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// TokenEstimator 在响应缺失 usage 时本地估算 token 数。
// 编码数据懒加载；加载失败时退化为按字符数近似。
type TokenEstimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
}

// NewTokenEstimator 为给定模型创建估算器，未知模型做前缀匹配。
func NewTokenEstimator(model string) *TokenEstimator {
	return &TokenEstimator{encoding: resolveEncoding(model)}
}

func resolveEncoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	for prefix, enc := range modelEncodings {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return enc
		}
	}
	return defaultEncoding
}

func (t *TokenEstimator) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			// 编码数据不可用时保持 nil，走近似估算
			return
		}
		t.enc = enc
	})
}

// Estimate 返回文本的估算 token 数。
func (t *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	t.init()
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	// 经验值：平均每 4 字符约 1 token
	return (len(text) + 3) / 4
}
