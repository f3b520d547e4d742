// Package websocket 提供 WebSocket 通信功能
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"galaxy-chat/internal/middleware"
	"galaxy-chat/pkg/response"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 来源由 CORS 配置和 token 共同约束，这里不再重复校验
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler 处理 WebSocket 连接
type Handler struct {
	hub *Hub
}

// NewHandler 创建 WebSocket Handler
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleChatWS 处理对话 WebSocket 连接
// 路由: GET /ws/chat?token=<JWT>
// 认证由路由组上的中间件完成
func (h *Handler) HandleChatWS(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "需要认证 token")
		return
	}

	// 升级 HTTP 连接为 WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := NewClient(h.hub, conn, userID)
	h.hub.Register(client)

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()
}

// RegisterRoutes 注册 WebSocket 路由
// auth 为认证中间件，token 通过 query 参数传入
func (h *Handler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	ws := r.Group("/ws")
	ws.Use(auth)
	{
		ws.GET("/chat", h.HandleChatWS)
	}
}
