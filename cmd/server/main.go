// Package main 是服务端的入口点
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"galaxy-chat/internal/cache"
	"galaxy-chat/internal/config"
	"galaxy-chat/internal/handler"
	"galaxy-chat/internal/llm"
	"galaxy-chat/internal/llm/mock"
	"galaxy-chat/internal/llm/openai"
	"galaxy-chat/internal/logger"
	"galaxy-chat/internal/middleware"
	"galaxy-chat/internal/repository"
	"galaxy-chat/internal/repository/mongostore"
	"galaxy-chat/internal/service"
	"galaxy-chat/internal/storage"
	"galaxy-chat/internal/websocket"
	"galaxy-chat/pkg/jwt"
)

// stores 持久化后端
type stores struct {
	conversations repository.ConversationStore
	pairs         repository.PairStore
	images        repository.ImageStore
	ping          handler.PingFunc
	close         func(ctx context.Context) error
}

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.JWT.Secret == "" {
		log.Fatal("jwt.secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储
	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal("failed to init database", "driver", cfg.Database.Driver, "error", err)
	}
	log.Info("database connected", "driver", cfg.Database.Driver)

	// Redis 可选：不可用时关闭 Token 黑名单和状态推送
	var redisCache *cache.RedisCache
	if rc, err := cache.NewRedisCache(cfg); err != nil {
		log.Warn("redis unavailable, token blacklist and status stream disabled", "error", err)
	} else {
		redisCache = rc
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("failed to init storage", "driver", cfg.Storage.Driver, "error", err)
	}

	provider, err := newProvider(cfg.AI)
	if err != nil {
		log.Fatal("failed to init provider", "error", err)
	}

	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpire)

	// 初始化 Service 层
	chatService := service.NewChatService(st.conversations, st.pairs, provider, cfg.AI, log.With("component", "chat"))
	conversationService := service.NewConversationService(st.conversations, st.pairs)
	imageService := service.NewImageService(st.images, st.pairs, st.conversations, blobs, cfg.Image, log.With("component", "image"))

	// 接口值必须保持真正的 nil
	var (
		blacklist    middleware.TokenBlacklist
		revoker      handler.TokenRevoker
		statusSource handler.StatusSource
	)
	checks := map[string]handler.Pinger{"database": st.ping}
	if redisCache != nil {
		chatService.SetStatusPublisher(redisCache)
		blacklist, revoker, statusSource = redisCache, redisCache, redisCache
		checks["redis"] = redisCache
		if cfg.AI.Memory {
			chatService.SetMemoryStore(redisCache)
		}
	}

	// 初始化 WebSocket Hub
	hub := websocket.NewHub(ctx, chatService, conversationService, log.With("component", "websocket"))
	go hub.Run()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	filesDir := ""
	if local, ok := blobs.(*storage.Local); ok {
		filesDir = local.Dir()
	}

	router := handler.NewRouter(handler.RouterConfig{
		JWT:          jwtService,
		Blacklist:    blacklist,
		Log:          log,
		CORSOrigins:  cfg.Server.CORS,
		FilesDir:     filesDir,
		Auth:         handler.NewAuthHandler(revoker),
		Conversation: handler.NewConversationHandler(conversationService),
		Chat:         handler.NewChatHandler(chatService),
		Status:       handler.NewStatusHandler(statusSource, log.With("component", "status")),
		Image:        handler.NewImageHandler(imageService),
		Health:       handler.NewHealthHandler(checks),
	})
	websocket.NewHandler(hub).RegisterRoutes(router, middleware.AuthMiddleware(jwtService, blacklist))

	// 流式响应不能设置 WriteTimeout
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", addr, "provider", provider.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if closer, ok := blobs.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn("failed to close storage", "error", err)
		}
	}
	if err := st.close(shutdownCtx); err != nil {
		log.Warn("failed to close database", "error", err)
	}

	log.Info("server exited")
}

// openStores 按 database.driver 打开 GORM 或 MongoDB 存储
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver == "mongo" {
		ms, err := mongostore.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		return &stores{
			conversations: ms.Conversations(),
			pairs:         ms.Pairs(),
			images:        ms.Images(),
			ping:          ms.Ping,
			close:         ms.Close,
		}, nil
	}

	db, err := repository.OpenDatabase(cfg.Database, cfg.Server.Mode)
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &stores{
		conversations: repository.NewConversationRepository(db),
		pairs:         repository.NewPairRepository(db),
		images:        repository.NewImageRepository(db),
		ping:          sqlDB.PingContext,
		close:         func(context.Context) error { return sqlDB.Close() },
	}, nil
}

// newProvider 按配置创建生成服务
func newProvider(cfg config.AIConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "mock":
		return mock.New(), nil
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("ai.api_key is required for the openai provider")
		}
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", cfg.Provider)
	}
}
