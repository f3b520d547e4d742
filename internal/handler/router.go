package handler

import (
	"github.com/gin-gonic/gin"

	"galaxy-chat/internal/logger"
	"galaxy-chat/internal/middleware"
	"galaxy-chat/pkg/jwt"
)

// RouterConfig 路由依赖
type RouterConfig struct {
	JWT         *jwt.JWTService
	Blacklist   middleware.TokenBlacklist // 可为 nil
	Log         *logger.Logger
	CORSOrigins []string
	FilesDir    string // 本地存储目录，非空时以 /files 对外提供

	Auth         *AuthHandler
	Conversation *ConversationHandler
	Chat         *ChatHandler
	Status       *StatusHandler
	Image        *ImageHandler
	Health       *HealthHandler
}

// NewRouter 创建 Gin 引擎并注册所有 HTTP 路由
// WebSocket 路由由 websocket.Handler 自行注册
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	if cfg.Health != nil {
		router.GET("/health", cfg.Health.Health)
	}
	if cfg.FilesDir != "" {
		router.Static("/files", cfg.FilesDir)
	}

	// API v1 路由组，全部需要登录
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWT, cfg.Blacklist))

	if cfg.Auth != nil {
		v1.POST("/auth/logout", cfg.Auth.Logout)
	}

	if h := cfg.Conversation; h != nil {
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", h.ListConversations)
			conversations.POST("", h.CreateConversation)
			conversations.PATCH("/:id", h.UpdateConversation)
			conversations.POST("/:id/archive", h.ArchiveConversation)
			conversations.DELETE("/:id", h.DeleteConversation)
			conversations.GET("/:id/transcript", h.GetTranscript)
			conversations.POST("/:id/transcript", h.GetTranscript)
		}

		pairs := v1.Group("/pairs")
		{
			pairs.GET("/:id/branches", h.GetBranches)
			pairs.PATCH("/:id", h.EditPair)
		}
	}

	if cfg.Chat != nil {
		v1.POST("/chat", cfg.Chat.Chat)
	}
	if cfg.Status != nil {
		v1.GET("/chat/status", cfg.Status.Stream)
	}
	if h := cfg.Image; h != nil {
		v1.POST("/images", h.GenerateImage)
		v1.GET("/images", h.ListImages)
	}

	return router
}
