// Package cache 提供 Redis 缓存操作的封装
// 处理 JWT 黑名单、生成中标记、生成状态广播和用户记忆等需要快速访问的数据
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"galaxy-chat/internal/config"
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: 应用配置（包含 Redis 连接信息）
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg *config.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient 使用已有客户端创建实例
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// ==================== JWT 黑名单 ====================
// 用于实现 Token 强制失效（登出）功能

// BlacklistToken 将 Token 加入黑名单
// 参数:
//   - ctx: 上下文
//   - tokenHash: Token 的哈希值（不存储原始 Token）
//   - expireAt: Token 的原始过期时间
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		// Token 已过期，无需加入黑名单
		return nil
	}
	// TTL 与 Token 剩余有效期一致，过期后自动删除
	return c.client.Set(ctx, blacklistKey(tokenHash), "1", ttl).Err()
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
// JWT 验证中间件调用
func (c *RedisCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	return c.client.Exists(ctx, blacklistKey(tokenHash)).Val() > 0
}

func blacklistKey(tokenHash string) string {
	return fmt.Sprintf("jwt:blacklist:%s", tokenHash)
}

// ==================== 生成中标记 ====================
// 使用 Hash 记录用户正在生成的会话，字段为会话ID，值为开始时间

// MarkGenerating 标记会话正在生成
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - conversationID: 会话ID
//   - ttl: 标记的最长保留时间，进程异常退出时由过期兜底
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) MarkGenerating(ctx context.Context, userID int64, conversationID string, ttl time.Duration) error {
	key := generatingKey(userID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, conversationID, time.Now().Unix())
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearGenerating 清除生成中标记
func (c *RedisCache) ClearGenerating(ctx context.Context, userID int64, conversationID string) error {
	return c.client.HDel(ctx, generatingKey(userID), conversationID).Err()
}

// GeneratingConversations 获取用户正在生成的会话ID
func (c *RedisCache) GeneratingConversations(ctx context.Context, userID int64) ([]string, error) {
	ids, err := c.client.HKeys(ctx, generatingKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

func generatingKey(userID int64) string {
	return fmt.Sprintf("user:%d:generating", userID)
}

// ==================== Pub/Sub ====================
// 生成状态变更通过用户频道广播，多实例部署时所有实例都能收到

// StatusEvent 生成状态事件
type StatusEvent struct {
	ConversationID string `json:"conversation_id"`
	PairID         string `json:"pair_id,omitempty"`
	Status         string `json:"status"` // started / completed / failed / cancelled
	Error          string `json:"error,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// 生成状态
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// PublishStatus 发布生成状态
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - event: 状态事件，Timestamp 为空时自动填充
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) PublishStatus(ctx context.Context, userID int64, event StatusEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, statusChannel(userID), data).Err()
}

// SubscribeStatus 订阅用户的生成状态
// 返回 PubSub 对象，调用方负责关闭
func (c *RedisCache) SubscribeStatus(ctx context.Context, userID int64) *redis.PubSub {
	return c.client.Subscribe(ctx, statusChannel(userID))
}

// DecodeStatus 解析频道消息
func DecodeStatus(msg *redis.Message) (StatusEvent, error) {
	var ev StatusEvent
	err := json.Unmarshal([]byte(msg.Payload), &ev)
	return ev, err
}

func statusChannel(userID int64) string {
	return fmt.Sprintf("user:%d:status", userID)
}

// ==================== 通用方法 ====================

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
