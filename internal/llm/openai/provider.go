// Package openai 通过 OpenAI 兼容接口调用生成服务
// base_url 指向 Gemini 的兼容端点时同样适用
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"

	"galaxy-chat/internal/llm"
)

// Config 客户端配置
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider 基于 go-openai 的 llm.Provider 实现
type Provider struct {
	client *goopenai.Client
}

// New 创建 Provider
func New(cfg Config) *Provider {
	c := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	return &Provider{client: goopenai.NewClientWithConfig(c)}
}

func (p *Provider) Name() string { return "openai" }

// Stream 发起流式请求
// 开启 include_usage，用量随最后一个片段返回
func (p *Provider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	creq := goopenai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      toMessages(req.Turns),
		Stream:        true,
		StreamOptions: &goopenai.StreamOptions{IncludeUsage: true},
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
	}

	s, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, wrapError(err, "create chat completion stream")
	}
	return &stream{s: s}, nil
}

func toMessages(turns []llm.Turn) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msg := goopenai.ChatCompletionMessage{Role: string(t.Role)}
		if len(t.Images) == 0 || t.Role != llm.RoleUser {
			msg.Content = t.Content
			out = append(out, msg)
			continue
		}

		parts := make([]goopenai.ChatMessagePart, 0, len(t.Images)+1)
		if t.Content != "" {
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: t.Content,
			})
		}
		for _, url := range t.Images {
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    url,
					Detail: goopenai.ImageURLDetailAuto,
				},
			})
		}
		msg.MultiContent = parts
		out = append(out, msg)
	}
	return out
}

type stream struct {
	s *goopenai.ChatCompletionStream
}

func (s *stream) Recv() (llm.Chunk, error) {
	resp, err := s.s.Recv()
	if errors.Is(err, io.EOF) {
		return llm.Chunk{}, io.EOF
	}
	if err != nil {
		return llm.Chunk{}, wrapError(err, "receive chunk")
	}

	var c llm.Chunk
	if len(resp.Choices) > 0 {
		c.Delta = resp.Choices[0].Delta.Content
		c.FinishReason = string(resp.Choices[0].FinishReason)
	}
	if resp.Usage != nil {
		c.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return c, nil
}

func (s *stream) Close() error {
	return s.s.Close()
}

// wrapError 把上游的 HTTP 错误转换成 llm.StatusError
// 其余错误保留原始链，调用方仍可以识别 context.Canceled
func wrapError(err error, msg string) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.StatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return pkgerrors.Wrap(err, msg)
}
