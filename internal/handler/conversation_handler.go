package handler

import (
	"github.com/gin-gonic/gin"

	"galaxy-chat/internal/service"
	"galaxy-chat/internal/thread"
	"galaxy-chat/pkg/response"
)

// ConversationHandler 会话请求处理器
type ConversationHandler struct {
	conversationService *service.ConversationService
}

// NewConversationHandler 创建 ConversationHandler 实例
func NewConversationHandler(conversationService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
	}
}

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// UpdateConversationRequest 更新会话请求
// 字段为空表示不修改
type UpdateConversationRequest struct {
	Title    *string `json:"title"`
	Archived *bool   `json:"archived"`
}

// TranscriptRequest 渲染会话请求
type TranscriptRequest struct {
	Selections thread.Selections `json:"selections"`
}

// EditPairRequest 原地编辑提问请求
type EditPairRequest struct {
	Query string `json:"query" binding:"required"`
}

// ListConversations 获取会话列表
// @Summary 获取会话列表
// @Description 按更新时间倒序返回最近的会话
// @Tags 会话
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=[]model.Conversation}
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := h.conversationService.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "获取会话列表失败")
		return
	}
	response.Success(c, gin.H{"conversations": list})
}

// CreateConversation 创建空会话
// @Summary 创建会话
// @Tags 会话
// @Security Bearer
// @Accept json
// @Produce json
// @Param body body CreateConversationRequest false "会话信息"
// @Success 201 {object} response.Response{data=model.Conversation}
// @Router /api/v1/conversations [post]
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "无效的请求参数")
			return
		}
	}

	conv, err := h.conversationService.Create(c.Request.Context(), userID, req.Title, req.Model)
	if err != nil {
		writeError(c, err, "创建会话失败")
		return
	}
	response.Created(c, conv)
}

// UpdateConversation 重命名或归档会话
// @Summary 更新会话
// @Tags 会话
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body UpdateConversationRequest true "更新内容"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id} [patch]
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Title == nil && req.Archived == nil) {
		response.BadRequest(c, "无效的请求参数")
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if req.Title != nil {
		if err := h.conversationService.Rename(ctx, userID, id, *req.Title); err != nil {
			writeError(c, err, "更新会话失败")
			return
		}
	}
	if req.Archived != nil {
		if err := h.conversationService.SetArchived(ctx, userID, id, *req.Archived); err != nil {
			writeError(c, err, "更新会话失败")
			return
		}
	}
	response.Success(c, nil)
}

// ArchiveRequest 归档请求，请求体可省略
type ArchiveRequest struct {
	Archived *bool `json:"archived"`
}

// ArchiveConversation 归档会话
// 请求体为空时归档，{"archived": false} 取消归档
// @Summary 归档会话
// @Tags 会话
// @Security Bearer
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id}/archive [post]
func (h *ConversationHandler) ArchiveConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ArchiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "无效的请求参数")
			return
		}
	}
	archived := req.Archived == nil || *req.Archived

	if err := h.conversationService.SetArchived(c.Request.Context(), userID, c.Param("id"), archived); err != nil {
		writeError(c, err, "归档会话失败")
		return
	}
	response.Success(c, gin.H{"archived": archived})
}

// DeleteConversation 删除会话及其全部消息对
// @Summary 删除会话
// @Tags 会话
// @Security Bearer
// @Param id path string true "会话ID"
// @Success 204
// @Router /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.conversationService.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err, "删除会话失败")
		return
	}
	response.NoContent(c)
}

// GetTranscript 按分支选择渲染会话
// GET 使用默认选择（所有分支点取下标 0），POST 可以在请求体中携带选择
// @Summary 渲染会话
// @Tags 会话
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body TranscriptRequest false "分支选择"
// @Success 200 {object} response.Response{data=service.TranscriptResponse}
// @Router /api/v1/conversations/{id}/transcript [post]
func (h *ConversationHandler) GetTranscript(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req TranscriptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "无效的分支选择")
			return
		}
	}

	result, err := h.conversationService.Transcript(c.Request.Context(), userID, c.Param("id"), req.Selections)
	if err != nil {
		writeError(c, err, "获取会话内容失败")
		return
	}
	response.Success(c, result)
}

// GetBranches 获取消息对的直接分支
// @Summary 获取分支
// @Tags 消息
// @Security Bearer
// @Produce json
// @Param id path string true "消息对ID"
// @Success 200 {object} response.Response{data=[]model.MessagePair}
// @Router /api/v1/pairs/{id}/branches [get]
func (h *ConversationHandler) GetBranches(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	pairs, err := h.conversationService.Branches(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err, "获取分支失败")
		return
	}
	response.Success(c, gin.H{"pairs": pairs})
}

// EditPair 原地修改提问，不产生新分支
// @Summary 原地编辑
// @Tags 消息
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "消息对ID"
// @Param body body EditPairRequest true "新的提问"
// @Success 200 {object} response.Response{data=model.MessagePair}
// @Router /api/v1/pairs/{id} [patch]
func (h *ConversationHandler) EditPair(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req EditPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "提问不能为空")
		return
	}

	pair, err := h.conversationService.EditInPlace(c.Request.Context(), userID, c.Param("id"), req.Query)
	if err != nil {
		writeError(c, err, "编辑失败")
		return
	}
	response.Success(c, pair)
}
