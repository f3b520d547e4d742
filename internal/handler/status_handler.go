package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"galaxy-chat/internal/cache"
	"galaxy-chat/internal/logger"
	"galaxy-chat/pkg/response"
)

// StatusSource 生成状态来源
// *cache.RedisCache 实现了该接口
type StatusSource interface {
	SubscribeStatus(ctx context.Context, userID int64) *redis.PubSub
	GeneratingConversations(ctx context.Context, userID int64) ([]string, error)
}

// StatusHandler 生成状态推送处理器
type StatusHandler struct {
	source    StatusSource
	heartbeat time.Duration
	log       *logger.Logger
}

// NewStatusHandler 创建 StatusHandler 实例
// source 为 nil 时接口返回 503
func NewStatusHandler(source StatusSource, log *logger.Logger) *StatusHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &StatusHandler{source: source, heartbeat: 15 * time.Second, log: log}
}

// ConnectedPayload 建立连接后推送的第一条事件
type ConnectedPayload struct {
	Generating []string `json:"generating"` // 正在生成的会话
}

// Stream 推送当前用户的生成状态
// 先发送 connected 事件，然后转发状态事件，并定时发送 heartbeat
// @Summary 生成状态推送
// @Tags 对话
// @Security Bearer
// @Produce text/event-stream
// @Router /api/v1/chat/status [get]
func (h *StatusHandler) Stream(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.source == nil {
		response.ErrorWithCode(c, http.StatusServiceUnavailable, response.CodeInternalError, "状态推送未启用")
		return
	}

	ctx := c.Request.Context()
	sub := h.source.SubscribeStatus(ctx, userID)
	defer sub.Close()
	// 等待订阅生效，避免漏掉紧接着发布的事件
	if _, err := sub.Receive(ctx); err != nil {
		h.log.Warn("subscribe status failed", "user_id", userID, "error", err)
		response.InternalError(c, "订阅状态失败")
		return
	}

	generating, err := h.source.GeneratingConversations(ctx, userID)
	if err != nil {
		h.log.Warn("load generating markers failed", "user_id", userID, "error", err)
	}
	if generating == nil {
		generating = []string{}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("connected", ConnectedPayload{Generating: generating})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			ev, err := cache.DecodeStatus(msg)
			if err != nil {
				h.log.Warn("drop malformed status event", "user_id", userID, "error", err)
				continue
			}
			c.SSEvent("status", ev)
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": now.UTC()})
			c.Writer.Flush()
		}
	}
}
