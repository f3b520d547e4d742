// Package api 封装与服务器的 HTTP API 交互
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"galaxy-chat/internal/model"
	"galaxy-chat/internal/service"
)

// Client API 客户端
// baseURL: 例如 http://localhost:8080
// accessToken: 需要鉴权的接口通过 Bearer 头携带
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// APIResponse 通用响应
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Error 服务端返回的业务错误
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API 错误 (HTTP %d, code %d): %s", e.Status, e.Code, e.Message)
}

// HealthResponse 健康检查结果
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health 查询服务状态，服务降级（503）时也返回结果
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("健康检查失败 (HTTP %d)", status)
	}
	var result HealthResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("解析健康检查响应失败: %w", err)
	}
	return &result, nil
}

// ListConversations 列出会话
func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/v1/conversations", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Conversations []*model.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("解析会话列表失败: %w", err)
	}
	return result.Conversations, nil
}

// Transcript 获取默认分支下的会话内容
func (c *Client) Transcript(ctx context.Context, conversationID string) (*service.TranscriptResponse, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/v1/conversations/"+conversationID+"/transcript", nil)
	if err != nil {
		return nil, err
	}
	var result service.TranscriptResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("解析会话内容失败: %w", err)
	}
	return &result, nil
}

// DeleteConversation 删除会话
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/api/v1/conversations/"+conversationID, nil)
	return err
}

// Logout 注销当前 Token
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPost, "/api/v1/auth/logout", nil)
	return err
}

// request 发送请求并解析统一响应
// 204 返回 nil 响应
func (c *Client) request(ctx context.Context, method, path string, body interface{}) (*APIResponse, error) {
	status, respBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", status, err)
	}
	if status >= http.StatusBadRequest || apiResp.Code != 0 {
		return nil, &Error{Status: status, Code: apiResp.Code, Message: apiResp.Message}
	}
	return &apiResp, nil
}

// do 发送请求，返回状态码和响应体
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
