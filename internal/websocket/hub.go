// Package websocket 提供 WebSocket 通信功能
package websocket

import (
	"context"
	"errors"
	"sync"

	"galaxy-chat/internal/logger"
	"galaxy-chat/internal/service"
	"galaxy-chat/pkg/response"
)

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 管理所有客户端连接
// 2. 把对话请求交给生成编排服务并转发流式结果
// 3. 向同一用户的其他连接广播会话更新
type Hub struct {
	// 客户端映射：userID -> 连接集合
	// 一个用户可能同时打开多个窗口
	clients map[int64]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	chat          *service.ChatService
	conversations *service.ConversationService
	log           *logger.Logger
	ctx           context.Context
}

// NewHub 创建 Hub 实例
// ctx 取消后所有连接会被关闭
func NewHub(
	ctx context.Context,
	chat *service.ChatService,
	conversations *service.ConversationService,
	log *logger.Logger,
) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:       make(map[int64]map[*Client]struct{}),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		chat:          chat,
		conversations: conversations,
		log:           log,
		ctx:           ctx,
	}
}

// Run 启动 Hub 的主循环
// 应该在单独的 goroutine 中运行
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Register 注册客户端
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		c.Close()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// OnlineCount 返回用户当前的连接数
func (h *Hub) OnlineCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	c.log.Info("websocket client registered", "connections", len(set))
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.userID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	c.Close()
	c.log.Info("websocket client unregistered", "connections", len(set))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			c.Close()
		}
		delete(h.clients, userID)
	}
}

// notifyUser 向用户的所有连接推送消息
func (h *Hub) notifyUser(userID int64, msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		c.SendMessage(msg)
	}
}

// ==================== 消息处理 ====================

// handleMessage 处理客户端消息
func (h *Hub) handleMessage(c *Client, msg *Message) {
	switch msg.Type {
	case TypeHeartbeat:
		c.SendMessage(NewMessageWithID(TypePong, nil, msg.MessageID))

	case TypeChatSend:
		var p ChatSendPayload
		if !h.decode(c, msg, &p) {
			return
		}
		h.handleSend(c, msg.MessageID, p)

	case TypeChatEdit:
		var p ChatEditPayload
		if !h.decode(c, msg, &p) {
			return
		}
		h.startGeneration(c, msg.MessageID, func(ctx context.Context) (<-chan service.Event, error) {
			return h.chat.Edit(ctx, service.EditRequest{
				UserID:      c.userID,
				PairID:      p.PairID,
				Query:       p.Query,
				Attachments: p.Attachments,
				Model:       p.Model,
				Selections:  c.selector.Snapshot(),
			})
		})

	case TypeChatRegenerate:
		var p ChatRegeneratePayload
		if !h.decode(c, msg, &p) {
			return
		}
		h.startGeneration(c, msg.MessageID, func(ctx context.Context) (<-chan service.Event, error) {
			return h.chat.Regenerate(ctx, service.RegenerateRequest{
				UserID:     c.userID,
				PairID:     p.PairID,
				Model:      p.Model,
				Selections: c.selector.Snapshot(),
			})
		})

	case TypeChatStop:
		if !c.stopGeneration() {
			h.sendError(c, msg.MessageID, response.CodeBadRequest, "没有进行中的生成")
		}

	case TypeBranchSelect, TypeBranchPrev, TypeBranchNext:
		var p BranchPayload
		if !h.decode(c, msg, &p) {
			return
		}
		h.handleBranch(c, msg, p)

	case TypeTranscriptGet:
		var p TranscriptGetPayload
		if !h.decode(c, msg, &p) {
			return
		}
		h.sendTranscript(c, msg.MessageID, p.ConversationID)

	default:
		h.sendError(c, msg.MessageID, response.CodeBadRequest, "未知的消息类型: "+msg.Type)
	}
}

func (h *Hub) decode(c *Client, msg *Message, v interface{}) bool {
	if err := msg.Decode(v); err != nil {
		h.sendError(c, msg.MessageID, response.CodeBadRequest, "消息内容格式错误")
		return false
	}
	return true
}

// handleSend 发送新消息
// 未指定父节点时作为新的根消息对，按顺序接在会话末尾
func (h *Hub) handleSend(c *Client, messageID string, p ChatSendPayload) {
	h.startGeneration(c, messageID, func(ctx context.Context) (<-chan service.Event, error) {
		return h.chat.Send(ctx, service.SendRequest{
			UserID:         c.userID,
			ConversationID: p.ConversationID,
			ParentID:       p.ParentID,
			Query:          p.Query,
			Attachments:    p.Attachments,
			Model:          p.Model,
			Temporary:      p.Temporary,
			Selections:     c.selector.Snapshot(),
			History:        p.History,
		})
	})
}

// startGeneration 启动一次生成并在后台转发事件
// 每个连接同一时间只允许一个生成
func (h *Hub) startGeneration(c *Client, messageID string, start func(ctx context.Context) (<-chan service.Event, error)) {
	ctx, gen, ok := c.beginGeneration()
	if !ok {
		h.sendError(c, messageID, response.CodeBadRequest, "已有生成正在进行")
		return
	}

	events, err := start(ctx)
	if err != nil {
		c.endGeneration(gen)
		h.sendServiceError(c, messageID, err)
		return
	}
	go h.forward(c, messageID, gen, events)
}

// forward 把生成事件转发给客户端
// 连接断开后仍读完通道，让生成协程正常退出
// gen 只释放本次生成的登记，不会影响之后开始的生成
func (h *Hub) forward(c *Client, messageID string, gen uint64, events <-chan service.Event) {
	defer c.endGeneration(gen)

	for ev := range events {
		switch ev.Type {
		case service.EventChunk:
			c.sendBlocking(NewMessageWithID(TypeChatChunk, &ChatChunkPayload{Delta: ev.Delta}, messageID))

		case service.EventDone:
			// done / error 是最后一个事件，先释放生成名额再通知客户端
			c.endGeneration(gen)
			done := ev.Completion
			if done.Persisted && done.ParentID != nil && done.BranchCount > 0 {
				// 切换到新生成的分支
				c.selector.Select(*done.ParentID, done.BranchIndex, done.BranchCount)
			}
			c.sendBlocking(NewMessageWithID(TypeChatDone, done, messageID))
			if done.Persisted {
				h.notifyUser(c.userID, NewMessage(TypeConversationUpdated, &ConversationUpdatedPayload{
					ConversationID: done.ConversationID,
					PairID:         done.PairID,
				}))
			}

		case service.EventError:
			c.endGeneration(gen)
			payload := &ChatErrorPayload{Stage: service.StageUpstream, Message: ev.Err.Error()}
			var genErr *service.GenerationError
			if errors.As(ev.Err, &genErr) {
				payload.Stage = genErr.Stage
			}
			c.sendBlocking(NewMessageWithID(TypeChatError, payload, messageID))
		}
	}
}

// handleBranch 切换分支并返回新的会话内容
func (h *Hub) handleBranch(c *Client, msg *Message, p BranchPayload) {
	count, err := h.conversations.ChildCount(c.ctx, c.userID, p.ConversationID, p.PairID)
	if err != nil {
		h.sendServiceError(c, msg.MessageID, err)
		return
	}

	switch msg.Type {
	case TypeBranchSelect:
		c.selector.Select(p.PairID, p.Index, count)
	case TypeBranchPrev:
		c.selector.Previous(p.PairID, count)
	case TypeBranchNext:
		c.selector.Next(p.PairID, count)
	}
	h.sendTranscript(c, msg.MessageID, p.ConversationID)
}

func (h *Hub) sendTranscript(c *Client, messageID, conversationID string) {
	tr, err := h.conversations.Transcript(c.ctx, c.userID, conversationID, c.selector.Snapshot())
	if err != nil {
		h.sendServiceError(c, messageID, err)
		return
	}
	c.SendMessage(NewMessageWithID(TypeTranscript, tr, messageID))
}

func (h *Hub) sendError(c *Client, messageID string, code int, message string) {
	c.SendMessage(NewMessageWithID(TypeError, &ErrorPayload{Code: code, Message: message}, messageID))
}

// sendServiceError 把业务错误映射为错误码
func (h *Hub) sendServiceError(c *Client, messageID string, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		h.sendError(c, messageID, response.CodeConversationNotFound, "会话不存在")
	case errors.Is(err, service.ErrPairNotFound):
		h.sendError(c, messageID, response.CodePairNotFound, "消息不存在")
	case errors.Is(err, service.ErrNoPermission):
		h.sendError(c, messageID, response.CodeForbidden, "无权访问此资源")
	case errors.Is(err, service.ErrInvalidInput):
		h.sendError(c, messageID, response.CodeBadRequest, err.Error())
	default:
		c.log.Error("websocket request failed", "error", err)
		h.sendError(c, messageID, response.CodeInternalError, "服务器内部错误")
	}
}

