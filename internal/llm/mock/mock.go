// Package mock 提供确定性的生成服务，用于本地开发和测试
package mock

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"galaxy-chat/internal/llm"
)

// Provider 回显最后一条用户输入
// 各字段用于模拟上游的各种异常
type Provider struct {
	ChunkSize int           // 每个片段的字节数，默认 16
	Delay     time.Duration // 每个片段之间的等待

	// Chunks 非空时按顺序输出这些片段，忽略回显
	Chunks []string

	// FailAfter > 0 时，输出 FailAfter 个片段后返回 Err
	FailAfter int
	Err       error

	// OmitFinish 为 true 时流结束不带结束信号
	OmitFinish bool

	// Hang 为 true 时输出完片段后一直阻塞到 ctx 取消
	Hang bool

	mu       sync.Mutex
	requests []llm.Request
}

// New 创建默认的 mock Provider
func New() *Provider {
	return &Provider{ChunkSize: 16}
}

func (p *Provider) Name() string { return "mock" }

// Requests 返回收到的所有请求
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// LastRequest 返回最近一次请求
func (p *Provider) LastRequest() (llm.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.Request{}, false
	}
	return p.requests[len(p.requests)-1], true
}

func (p *Provider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	chunks := p.Chunks
	if len(chunks) == 0 {
		chunks = split(Reply(req), p.ChunkSize)
	}
	prompt := 0
	for _, t := range req.Turns {
		prompt += llm.EstimateTokens(t.Content)
	}
	return &stream{ctx: ctx, p: p, chunks: chunks, prompt: prompt}, nil
}

// Reply 返回 mock 对请求的完整回复
func Reply(req llm.Request) string {
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == llm.RoleUser && strings.TrimSpace(req.Turns[i].Content) != "" {
			return fmt.Sprintf("mock: %s", req.Turns[i].Content)
		}
	}
	return "mock: ok"
}

func split(s string, size int) []string {
	if size <= 0 {
		size = 16
	}
	var out []string
	for i := 0; i < len(s); i += size {
		end := i + size
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
	}
	return out
}

type stream struct {
	ctx      context.Context
	p        *Provider
	chunks   []string
	sent     int
	finished bool
	prompt   int
	output   int
}

func (s *stream) Recv() (llm.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if s.p.FailAfter > 0 && s.sent >= s.p.FailAfter {
		return llm.Chunk{}, s.p.Err
	}
	if s.p.Delay > 0 {
		select {
		case <-s.ctx.Done():
			return llm.Chunk{}, s.ctx.Err()
		case <-time.After(s.p.Delay):
		}
	}

	if s.sent < len(s.chunks) {
		c := s.chunks[s.sent]
		s.sent++
		s.output += llm.EstimateTokens(c)
		return llm.Chunk{Delta: c}, nil
	}

	if s.p.Hang {
		<-s.ctx.Done()
		return llm.Chunk{}, s.ctx.Err()
	}
	if s.finished || s.p.OmitFinish {
		return llm.Chunk{}, io.EOF
	}
	s.finished = true
	return llm.Chunk{
		FinishReason: "stop",
		Usage: &llm.Usage{
			PromptTokens:     s.prompt,
			CompletionTokens: s.output,
			TotalTokens:      s.prompt + s.output,
		},
	}, nil
}

func (s *stream) Close() error { return nil }
