// Package websocket 处理与服务器的 WebSocket 连接
package websocket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	chatws "galaxy-chat/internal/websocket"
)

// 心跳间隔
const heartbeatPeriod = 30 * time.Second

// Client 对话 WebSocket 客户端
// 消息结构与服务端共用
type Client struct {
	conn      *websocket.Conn
	serverURL string
	sendChan  chan []byte
	done      chan struct{}
	seq       atomic.Int64
	mu        sync.Mutex
	isRunning bool
	onMessage func(*chatws.Message) // 消息回调
	onClose   func()                // 连接关闭回调
}

// NewClient 创建 WebSocket 客户端
// 参数:
//   - serverURL: HTTP 服务器地址（如 http://localhost:8080）
//   - token: 访问令牌，通过 query 参数传给服务端
func NewClient(serverURL, token string) *Client {
	// 将 HTTP URL 转换为 WebSocket URL
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws/chat?token=" + url.QueryEscape(token)

	return &Client{
		serverURL: wsURL,
		sendChan:  make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// OnMessage 设置消息回调，在读协程中调用
func (c *Client) OnMessage(handler func(*chatws.Message)) {
	c.onMessage = handler
}

// OnClose 设置连接关闭回调
func (c *Client) OnClose(handler func()) {
	c.onClose = handler
}

// Connect 连接到服务器
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("客户端已在运行")
	}
	c.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.Dial(c.serverURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("连接失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("连接失败: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.isRunning = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	// 关闭帧由 writePump 发送
	close(c.done)
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Send 发送一条消息，返回分配的 message_id
// 服务端的回复会带回同一个 message_id
func (c *Client) Send(msgType string, payload interface{}) (string, error) {
	id := "cli-" + strconv.FormatInt(c.seq.Add(1), 10)
	data, err := json.Marshal(chatws.NewMessageWithID(msgType, payload, id))
	if err != nil {
		return "", err
	}

	if !c.IsRunning() {
		return "", fmt.Errorf("连接已关闭")
	}
	select {
	case c.sendChan <- data:
		return id, nil
	default:
		return "", fmt.Errorf("发送缓冲区已满")
	}
}

// readPump 读取消息
func (c *Client) readPump() {
	defer c.Disconnect()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg chatws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(&msg)
		}
	}
}

// writePump 写入消息并定时发送心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Disconnect()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.sendChan:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			data, _ := json.Marshal(chatws.NewMessage(chatws.TypeHeartbeat, nil))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// IsRunning 检查是否正在运行
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}
