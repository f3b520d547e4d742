package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"galaxy-chat/internal/config"
	"galaxy-chat/internal/llm/mock"
	"galaxy-chat/internal/middleware"
	"galaxy-chat/internal/repository"
	"galaxy-chat/internal/service"
	"galaxy-chat/internal/thread"
	"galaxy-chat/pkg/jwt"
	"galaxy-chat/pkg/response"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, provider *mock.Provider) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.OpenDatabase(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "ws.db"),
	}, "release")
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	convRepo := repository.NewConversationRepository(db)
	pairRepo := repository.NewPairRepository(db)
	chat := service.NewChatService(convRepo, pairRepo, provider, config.AIConfig{Model: "gpt-4o"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(ctx, chat, service.NewConversationService(convRepo, pairRepo), nil)
	go hub.Run()

	js := jwt.NewJWTService(testSecret, time.Hour)
	token, err := js.GenerateAccessToken(1, "tester")
	require.NoError(t, err)

	r := gin.New()
	NewHandler(hub).RegisterRoutes(r, middleware.AuthMiddleware(js, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, token
}

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func dial(t *testing.T, srv *httptest.Server, token string) *wsConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn}
}

// send 发送消息并返回 message_id
func (w *wsConn) send(msgType string, payload interface{}) string {
	w.t.Helper()
	w.seq++
	id := msgType + "#" + strconv.Itoa(w.seq)
	require.NoError(w.t, w.conn.WriteJSON(NewMessageWithID(msgType, payload, id)))
	return id
}

// until 读取消息直到出现指定类型之一，返回中间收到的全部消息
func (w *wsConn) until(types ...string) []*Message {
	w.t.Helper()
	var got []*Message
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(w.t, w.conn.ReadJSON(&msg))
		got = append(got, &msg)
		for _, typ := range types {
			if msg.Type == typ {
				return got
			}
		}
	}
}

func (w *wsConn) generate(msgType string, payload interface{}) (string, *service.Completion) {
	w.t.Helper()
	id := w.send(msgType, payload)
	msgs := w.until(TypeChatDone, TypeChatError, TypeError)
	last := msgs[len(msgs)-1]
	require.Equal(w.t, TypeChatDone, last.Type, string(last.Payload))
	require.Equal(w.t, id, last.MessageID)

	var text strings.Builder
	for _, m := range msgs[:len(msgs)-1] {
		if m.Type == TypeChatChunk {
			var p ChatChunkPayload
			require.NoError(w.t, m.Decode(&p))
			text.WriteString(p.Delta)
		}
	}
	var done service.Completion
	require.NoError(w.t, last.Decode(&done))
	return text.String(), &done
}

func (w *wsConn) transcript(msgType string, payload interface{}) *service.TranscriptResponse {
	w.t.Helper()
	w.send(msgType, payload)
	msgs := w.until(TypeTranscript, TypeError)
	last := msgs[len(msgs)-1]
	require.Equal(w.t, TypeTranscript, last.Type, string(last.Payload))
	var tr service.TranscriptResponse
	require.NoError(w.t, last.Decode(&tr))
	return &tr
}

func contents(tr *service.TranscriptResponse) []string {
	var out []string
	for _, r := range tr.Records {
		if r.Role == thread.RoleUser {
			out = append(out, r.Content)
		}
	}
	return out
}

func TestChatAndBranchNavigation(t *testing.T) {
	srv, token := newTestServer(t, mock.New())
	c := dial(t, srv, token)

	id := c.send(TypeHeartbeat, nil)
	pong := c.until(TypePong)
	require.Equal(t, id, pong[len(pong)-1].MessageID)

	text, first := c.generate(TypeChatSend, &ChatSendPayload{Query: "hello"})
	require.Equal(t, "mock: hello", text)
	require.True(t, first.Persisted)
	require.Nil(t, first.ParentID)
	conv := first.ConversationID

	// 未指定父节点时是新的根轮次，不会成为上一条的分支
	_, second := c.generate(TypeChatSend, &ChatSendPayload{ConversationID: conv, Query: "next"})
	require.Nil(t, second.ParentID)
	require.Equal(t, 0, second.BranchCount)

	tr := c.transcript(TypeTranscriptGet, &TranscriptGetPayload{ConversationID: conv})
	require.Equal(t, []string{"hello", "next"}, contents(tr))

	// 重新生成是 hello 的备选回复，与后续的根轮次无关
	_, regen := c.generate(TypeChatRegenerate, &ChatRegeneratePayload{PairID: first.PairID})
	require.Equal(t, first.PairID, *regen.ParentID)
	require.Equal(t, 0, regen.BranchIndex)
	require.Equal(t, 1, regen.BranchCount)

	// 编辑分支生成兄弟节点并自动切换过去
	_, edited := c.generate(TypeChatEdit, &ChatEditPayload{PairID: regen.PairID, Query: "edited"})
	require.Equal(t, first.PairID, *edited.ParentID)
	require.Equal(t, 1, edited.BranchIndex)
	require.Equal(t, 2, edited.BranchCount)

	tr = c.transcript(TypeTranscriptGet, &TranscriptGetPayload{ConversationID: conv})
	require.Equal(t, []string{"hello", "edited", "next"}, contents(tr))

	branch := &BranchPayload{ConversationID: conv, PairID: first.PairID}
	tr = c.transcript(TypeBranchPrev, branch)
	require.Equal(t, []string{"hello", "hello", "next"}, contents(tr))
	tr = c.transcript(TypeBranchPrev, branch)
	require.Equal(t, []string{"hello", "hello", "next"}, contents(tr))
	tr = c.transcript(TypeBranchNext, branch)
	require.Equal(t, []string{"hello", "edited", "next"}, contents(tr))

	// 越界的下标被截断
	tr = c.transcript(TypeBranchSelect, &BranchPayload{ConversationID: conv, PairID: first.PairID, Index: 9})
	require.Equal(t, []string{"hello", "edited", "next"}, contents(tr))
	require.Equal(t, 1, tr.Records[2].BranchIndex)

	// 新连接的分支选择从 0 开始
	other := dial(t, srv, token)
	tr = other.transcript(TypeTranscriptGet, &TranscriptGetPayload{ConversationID: conv})
	require.Equal(t, []string{"hello", "hello", "next"}, contents(tr))
}

func TestErrorsAreReported(t *testing.T) {
	srv, token := newTestServer(t, mock.New())
	c := dial(t, srv, token)

	decodeErr := func() ErrorPayload {
		msgs := c.until(TypeError)
		var p ErrorPayload
		require.NoError(t, msgs[len(msgs)-1].Decode(&p))
		return p
	}

	c.send(TypeChatStop, nil)
	require.Equal(t, response.CodeBadRequest, decodeErr().Code)

	c.send("chat:unknown", nil)
	require.Equal(t, response.CodeBadRequest, decodeErr().Code)

	c.send(TypeChatRegenerate, &ChatRegeneratePayload{PairID: "missing"})
	require.Equal(t, response.CodePairNotFound, decodeErr().Code)

	c.send(TypeTranscriptGet, &TranscriptGetPayload{ConversationID: "missing"})
	require.Equal(t, response.CodeConversationNotFound, decodeErr().Code)

	c.send(TypeChatSend, &ChatSendPayload{Query: "  "})
	require.Equal(t, response.CodeBadRequest, decodeErr().Code)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.Equal(t, response.CodeBadRequest, decodeErr().Code)
}

func TestStopCancelsGeneration(t *testing.T) {
	p := mock.New()
	p.Chunks = []string{"partial"}
	p.Hang = true
	srv, token := newTestServer(t, p)
	c := dial(t, srv, token)

	id := c.send(TypeChatSend, &ChatSendPayload{Query: "long answer please"})
	c.until(TypeChatChunk)

	// 生成进行中时拒绝新的生成
	c.send(TypeChatSend, &ChatSendPayload{Query: "another"})
	msgs := c.until(TypeError)
	require.Equal(t, TypeError, msgs[len(msgs)-1].Type)

	c.send(TypeChatStop, nil)
	msgs = c.until(TypeChatError)
	last := msgs[len(msgs)-1]
	require.Equal(t, id, last.MessageID)
	var payload ChatErrorPayload
	require.NoError(t, last.Decode(&payload))
	require.Equal(t, service.StageCancelled, payload.Stage)
}

func TestFinishedGenerationDoesNotCancelNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(ctx, nil, nil, nil)
	c := NewClient(hub, nil, 1)

	_, gen, ok := c.beginGeneration()
	require.True(t, ok)

	events := make(chan service.Event, 1)
	events <- service.Event{Type: service.EventDone, Completion: &service.Completion{}}
	finished := make(chan struct{})
	go func() {
		hub.forward(c, "first", gen, events)
		close(finished)
	}()

	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, TypeChatDone, msg.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no chat:done")
	}

	// 上一次生成的通道关闭前，客户端已经开始下一次生成
	next, _, ok := c.beginGeneration()
	require.True(t, ok)
	close(events)
	<-finished

	require.NoError(t, next.Err())
	require.True(t, c.stopGeneration())
	require.Error(t, next.Err())
}

func TestDialRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, mock.New())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, response.CodeUnauthorized, body.Code)
}
