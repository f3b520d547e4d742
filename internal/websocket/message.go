// Package websocket 提供 WebSocket 通信功能
// 实现客户端与服务端之间的流式对话和分支切换
package websocket

import (
	"encoding/json"
	"time"

	"galaxy-chat/internal/llm"
	"galaxy-chat/internal/model"
)

// MessageType 消息类型常量
const (
	// 客户端 → 服务端
	TypeHeartbeat      = "heartbeat"       // 心跳
	TypeChatSend       = "chat:send"       // 发送新消息
	TypeChatEdit       = "chat:edit"       // 编辑提问，生成兄弟分支
	TypeChatRegenerate = "chat:regenerate" // 重新生成回复
	TypeChatStop       = "chat:stop"       // 停止当前生成
	TypeBranchSelect   = "branch:select"   // 选择分支
	TypeBranchPrev     = "branch:prev"     // 上一个分支
	TypeBranchNext     = "branch:next"     // 下一个分支
	TypeTranscriptGet  = "transcript:get"  // 获取当前选择下的会话内容

	// 服务端 → 客户端
	TypeChatChunk           = "chat:chunk"           // 增量文本
	TypeChatDone            = "chat:done"            // 生成完成
	TypeChatError           = "chat:error"           // 生成失败
	TypeTranscript          = "transcript"           // 会话内容
	TypeConversationUpdated = "conversation:updated" // 会话有新的消息对（推送给同一用户的所有连接）

	// 通用
	TypeError = "error" // 错误消息
	TypePong  = "pong"  // 心跳响应
)

// Message WebSocket 消息结构
// 所有消息都使用这个统一的结构
type Message struct {
	Type      string          `json:"type"`                 // 消息类型
	Payload   json.RawMessage `json:"payload,omitempty"`    // 消息内容
	Timestamp int64           `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string          `json:"message_id,omitempty"` // 消息ID，服务端回复时原样带回
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return NewMessageWithID(msgType, payload, "")
}

// NewMessageWithID 创建带消息ID的新消息
func NewMessageWithID(msgType string, payload interface{}, messageID string) *Message {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		MessageID: messageID,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			msg.Payload = data
		}
	}
	return msg
}

// Decode 把 Payload 解析到 v
func (m *Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ==================== Payload 类型定义 ====================

// ChatSendPayload 发送新消息
// ParentID 为空时作为新的根轮次；指定时成为该消息对的分支
type ChatSendPayload struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	ParentID       *string            `json:"parent_id,omitempty"`
	Query          string             `json:"query"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	Model          string             `json:"model,omitempty"`
	Temporary      bool               `json:"temporary,omitempty"`
	History        []llm.Turn         `json:"history,omitempty"` // 临时会话的上下文
}

// ChatEditPayload 编辑提问
type ChatEditPayload struct {
	PairID      string             `json:"pair_id"`
	Query       string             `json:"query"`
	Attachments []model.Attachment `json:"attachments,omitempty"` // 为空时沿用原附件
	Model       string             `json:"model,omitempty"`
}

// ChatRegeneratePayload 重新生成
type ChatRegeneratePayload struct {
	PairID string `json:"pair_id"`
	Model  string `json:"model,omitempty"`
}

// BranchPayload 分支切换
// Index 只在 branch:select 中使用
type BranchPayload struct {
	ConversationID string `json:"conversation_id"`
	PairID         string `json:"pair_id"` // 分支点（父消息对）ID
	Index          int    `json:"index"`
}

// TranscriptGetPayload 获取会话内容
type TranscriptGetPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ChatChunkPayload 增量文本
type ChatChunkPayload struct {
	Delta string `json:"delta"`
}

// ChatErrorPayload 生成失败
type ChatErrorPayload struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// ConversationUpdatedPayload 会话更新通知
type ConversationUpdatedPayload struct {
	ConversationID string `json:"conversation_id"`
	PairID         string `json:"pair_id"`
}

// ErrorPayload 错误消息 Payload
type ErrorPayload struct {
	Code    int    `json:"code"`    // 错误码
	Message string `json:"message"` // 错误信息
}
