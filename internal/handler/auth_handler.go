package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"galaxy-chat/internal/middleware"
	"galaxy-chat/pkg/response"
)

// TokenRevoker 把 Token 加入黑名单
// *cache.RedisCache 实现了该接口
type TokenRevoker interface {
	BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error
}

// AuthHandler 认证请求处理器
// Token 由外部签发（galaxy token 命令或上游网关），这里只负责注销
type AuthHandler struct {
	revoker TokenRevoker
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(revoker TokenRevoker) *AuthHandler {
	return &AuthHandler{revoker: revoker}
}

// Logout 注销当前 Token
// @Summary 登出
// @Description 将当前 Token 加入黑名单，直到其自然过期
// @Tags 认证
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if h.revoker == nil {
		response.ErrorWithCode(c, http.StatusServiceUnavailable, response.CodeInternalError, "未启用 Token 黑名单")
		return
	}

	// 从上下文获取 Token 信息（由认证中间件设置）
	token, exists := c.Get("token")
	if !exists {
		response.BadRequest(c, "无法获取 Token 信息")
		return
	}
	exp, _ := c.Get("token_exp")
	expireAt := time.Now().Add(24 * time.Hour)
	if nd, ok := exp.(*jwtlib.NumericDate); ok && nd != nil {
		expireAt = nd.Time
	}

	if err := h.revoker.BlacklistToken(c.Request.Context(), middleware.HashToken(token.(string)), expireAt); err != nil {
		_ = c.Error(err)
		response.InternalError(c, "登出失败")
		return
	}
	response.Success(c, nil)
}
