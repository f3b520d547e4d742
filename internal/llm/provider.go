// Package llm 定义生成服务的抽象
// 具体实现见 llm/openai（OpenAI 兼容接口）与 llm/mock（确定性回显）
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role 对话角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 发送给生成服务的一轮对话
type Turn struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // 图片地址，仅用户轮次有效
}

// Request 一次生成请求
type Request struct {
	Model       string
	Turns       []Turn
	Temperature float32
	MaxTokens   int
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk 流中的一个片段
// 最后一个片段带有 FinishReason，Usage 可能单独出现在结束片段中
type Chunk struct {
	Delta        string
	FinishReason string
	Usage        *Usage
}

// Stream 流式结果
// Recv 在流正常结束后返回 io.EOF
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider 生成服务
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ErrNoFinish 流结束但没有收到结束信号
var ErrNoFinish = errors.New("llm: stream ended without finish signal")

// StatusError 生成服务返回了非成功状态
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: upstream status %d: %s", e.StatusCode, e.Message)
}
