// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"galaxy-chat/internal/service"
	"galaxy-chat/pkg/response"
)

// writeError 把业务错误映射为统一响应
// fallback 是未知错误时返回给客户端的提示
func writeError(c *gin.Context, err error, fallback string) {
	var genErr *service.GenerationError
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		response.ConversationNotFound(c)
	case errors.Is(err, service.ErrPairNotFound):
		response.PairNotFound(c)
	case errors.Is(err, service.ErrNoPermission):
		response.Forbidden(c, "无权访问此资源")
	case errors.Is(err, service.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrImageGeneration):
		response.ImageFailed(c, "图片生成失败")
	case errors.As(err, &genErr):
		if genErr.Stage == service.StageUpstream {
			response.ErrorWithCode(c, http.StatusBadGateway, response.CodeGenerationFailed, "生成失败")
		} else {
			response.ErrorWithCode(c, http.StatusGatewayTimeout, response.CodeGenerationCancelled, "生成已取消或超时")
		}
	default:
		_ = c.Error(err)
		response.InternalError(c, fallback)
	}
}

// currentUser 读取认证中间件写入的用户 ID
// 未认证时直接返回 401
func currentUser(c *gin.Context) (int64, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "请先登录")
		return 0, false
	}
	id, ok := userID.(int64)
	if !ok || id == 0 {
		response.Unauthorized(c, "请先登录")
		return 0, false
	}
	return id, true
}
