package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"galaxy-chat/internal/llm"
	"galaxy-chat/internal/model"
	"galaxy-chat/internal/service"
	"galaxy-chat/internal/thread"
	"galaxy-chat/pkg/response"
)

// 生成操作类型
const (
	OperationNew        = "new"
	OperationEdit       = "edit"
	OperationRegenerate = "regenerate"
)

// ChatHandler 流式生成处理器
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 流式生成请求
// operation=new 时使用 conversation_id / parent_id / query
// operation=edit 时使用 pair_id / query，attachments 为空时沿用原附件
// operation=regenerate 时只需要 pair_id
type ChatRequest struct {
	Operation      string             `json:"operation"`
	ConversationID string             `json:"conversation_id"`
	ParentID       *string            `json:"parent_id"`
	PairID         string             `json:"pair_id"`
	Query          string             `json:"query"`
	Attachments    []model.Attachment `json:"attachments"`
	Model          string             `json:"model"`
	Temporary      bool               `json:"temporary"`
	Selections     thread.Selections  `json:"selections"`
	History        []llm.Turn         `json:"history"` // 临时会话的上下文
}

// ChunkPayload chunk 事件的数据
type ChunkPayload struct {
	Delta string `json:"delta"`
}

// ErrorPayload error 事件的数据
type ErrorPayload struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Chat 发起一次流式生成
// 参数校验失败时返回普通 JSON 错误；开始生成后以 SSE 推送 chunk，最后推送一个 done 或 error 事件
// @Summary 流式生成
// @Tags 对话
// @Security Bearer
// @Accept json
// @Produce text/event-stream
// @Param body body ChatRequest true "生成请求"
// @Router /api/v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "无效的请求参数")
		return
	}

	events, err := h.start(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, err, "生成失败")
		return
	}

	streamEvents(c, events)
}

// start 根据操作类型调用对应的编排方法
func (h *ChatHandler) start(ctx context.Context, userID int64, req *ChatRequest) (<-chan service.Event, error) {
	switch strings.ToLower(req.Operation) {
	case "", OperationNew:
		return h.chatService.Send(ctx, service.SendRequest{
			UserID:         userID,
			ConversationID: req.ConversationID,
			ParentID:       req.ParentID,
			Query:          req.Query,
			Attachments:    req.Attachments,
			Model:          req.Model,
			Temporary:      req.Temporary,
			Selections:     req.Selections,
			History:        req.History,
		})
	case OperationEdit:
		if req.PairID == "" {
			return nil, service.ErrInvalidInput
		}
		return h.chatService.Edit(ctx, service.EditRequest{
			UserID:      userID,
			PairID:      req.PairID,
			Query:       req.Query,
			Attachments: req.Attachments,
			Model:       req.Model,
			Selections:  req.Selections,
		})
	case OperationRegenerate:
		if req.PairID == "" {
			return nil, service.ErrInvalidInput
		}
		return h.chatService.Regenerate(ctx, service.RegenerateRequest{
			UserID:     userID,
			PairID:     req.PairID,
			Model:      req.Model,
			Selections: req.Selections,
		})
	default:
		return nil, service.ErrInvalidInput
	}
}

// streamEvents 把生成事件写成 SSE
// 客户端断开后继续读完通道，生成协程据此收尾
func streamEvents(c *gin.Context, events <-chan service.Event) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for ev := range events {
		switch ev.Type {
		case service.EventChunk:
			c.SSEvent(string(ev.Type), ChunkPayload{Delta: ev.Delta})
		case service.EventDone:
			c.SSEvent(string(ev.Type), ev.Completion)
		case service.EventError:
			c.SSEvent(string(ev.Type), errorPayload(ev.Err))
		}
		c.Writer.Flush()
	}
}

func errorPayload(err error) ErrorPayload {
	var genErr *service.GenerationError
	if errors.As(err, &genErr) {
		return ErrorPayload{Stage: genErr.Stage, Message: genErr.Error()}
	}
	return ErrorPayload{Stage: service.StageUpstream, Message: err.Error()}
}
