// Package websocket 提供 WebSocket 通信功能
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"galaxy-chat/internal/logger"
	"galaxy-chat/internal/thread"
	"galaxy-chat/pkg/response"
)

// Client 表示一个 WebSocket 客户端连接
// 每个连接持有自己的分支选择，断开后选择随之丢弃
type Client struct {
	hub      *Hub            // 所属的 Hub
	conn     *websocket.Conn // WebSocket 连接
	send     chan []byte     // 发送消息的通道
	done     chan struct{}   // 连接关闭信号
	userID   int64           // 用户ID
	selector *thread.Selector
	log      *logger.Logger

	ctx    context.Context // 连接生命周期，断开时取消
	cancel context.CancelFunc

	mu        sync.Mutex
	stopGen   context.CancelFunc // 当前生成的取消函数，没有生成时为 nil
	genSeq    uint64             // 当前生成的序号
	closeOnce sync.Once
}

// 连接配置常量
const (
	// 写超时时间
	writeWait = 10 * time.Second

	// 等待 Pong 响应的超时时间
	pongWait = 60 * time.Second

	// 发送 Ping 的间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 消息最大大小（1MB）
	maxMessageSize = 1024 * 1024
)

// NewClient 创建新的客户端
func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256), // 缓冲区大小
		done:     make(chan struct{}),
		userID:   userID,
		selector: thread.NewSelector(),
		log:      hub.log.With("user_id", userID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ReadPump 读取 WebSocket 消息的 goroutine
// 负责从 WebSocket 读取消息并交给 Hub 处理
func (c *Client) ReadPump() {
	// 确保退出时清理资源
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	// 每次收到 Pong，重置读取超时
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}
		// 任何消息都说明连接存活
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.log.Debug("drop malformed message", "error", err)
			c.SendMessage(NewMessage(TypeError, &ErrorPayload{Code: response.CodeBadRequest, Message: "消息格式错误"}))
			continue
		}

		c.hub.handleMessage(c, &msg)
	}
}

// WritePump 写入 WebSocket 消息的 goroutine
// 负责从 send 通道读取消息并写入 WebSocket，同时定时发送 Ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 向客户端发送消息
// 缓冲区满时丢弃，适用于通知类消息
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal websocket message failed", "type", msg.Type, "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn("client send buffer full, dropping message", "type", msg.Type)
	}
}

// sendBlocking 等待缓冲区可写后发送，连接关闭时放弃
// 用于生成片段，保证片段不丢失且有序
func (c *Client) sendBlocking(msg *Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal websocket message failed", "type", msg.Type, "error", err)
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

// beginGeneration 登记一次新的生成
// 返回生成的上下文和序号，已有生成进行中时返回 false
func (c *Client) beginGeneration() (context.Context, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopGen != nil {
		return nil, 0, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopGen = cancel
	c.genSeq++
	return ctx, c.genSeq, true
}

// endGeneration 清除序号为 gen 的生成登记
// 登记已被更新的生成占用时不做任何事
func (c *Client) endGeneration(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopGen != nil && c.genSeq == gen {
		c.stopGen()
		c.stopGen = nil
	}
}

// stopGeneration 取消当前生成，没有生成时返回 false
func (c *Client) stopGeneration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopGen == nil {
		return false
	}
	c.stopGen()
	return true
}

// Close 关闭客户端连接
// 可以重复调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}
