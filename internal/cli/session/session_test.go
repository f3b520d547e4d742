package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"galaxy-chat/internal/model"
	"galaxy-chat/internal/service"
	"galaxy-chat/internal/thread"
	chatws "galaxy-chat/internal/websocket"
)

type sent struct {
	Type    string
	Payload interface{}
}

// fakeServer 按消息类型回放预设回复
type fakeServer struct {
	events  chan *chatws.Message
	sent    []sent
	replies map[string]func(id string, payload interface{}) []*chatws.Message
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		events:  make(chan *chatws.Message, 64),
		replies: map[string]func(string, interface{}) []*chatws.Message{},
	}
}

func (f *fakeServer) Send(msgType string, payload interface{}) (string, error) {
	id := msgType + "-" + string(rune('a'+len(f.sent)))
	f.sent = append(f.sent, sent{Type: msgType, Payload: payload})
	// 无关消息不影响等待
	f.events <- chatws.NewMessageWithID(chatws.TypeConversationUpdated, nil, "other")
	if reply, ok := f.replies[msgType]; ok {
		for _, m := range reply(id, payload) {
			f.events <- m
		}
	}
	return id, nil
}

func pair(id string, parent *string, query, resp string, index, count int) []thread.Record {
	return thread.Transcript([]thread.Node{{
		Pair:        &model.MessagePair{ID: id, ParentID: parent, Query: query, Response: resp},
		BranchIndex: index,
		BranchCount: count,
	}})
}

func strPtr(s string) *string { return &s }

func TestSendStreamsAndRefreshes(t *testing.T) {
	f := newFakeServer()
	f.replies[chatws.TypeChatSend] = func(id string, _ interface{}) []*chatws.Message {
		return []*chatws.Message{
			chatws.NewMessageWithID(chatws.TypeChatChunk, &chatws.ChatChunkPayload{Delta: "hi "}, id),
			chatws.NewMessageWithID(chatws.TypeChatChunk, &chatws.ChatChunkPayload{Delta: "there"}, id),
			chatws.NewMessageWithID(chatws.TypeChatDone, &service.Completion{ConversationID: "c1", PairID: "p1", Persisted: true}, id),
		}
	}
	f.replies[chatws.TypeTranscriptGet] = func(id string, _ interface{}) []*chatws.Message {
		return []*chatws.Message{chatws.NewMessageWithID(chatws.TypeTranscript, &service.TranscriptResponse{
			Records: pair("p1", nil, "hello", "hi there", 0, 0),
		}, id)}
	}

	var out bytes.Buffer
	s := New(f, f.events, &out, "m1")
	require.NoError(t, s.Handle(context.Background(), "hello", nil))

	require.Contains(t, out.String(), "hi there")
	require.Equal(t, "c1", s.ConversationID())
	require.Len(t, s.Records(), 2)

	require.Len(t, f.sent, 2)
	p := f.sent[0].Payload.(*chatws.ChatSendPayload)
	require.Equal(t, "hello", p.Query)
	require.Equal(t, "m1", p.Model)
	require.Empty(t, p.ConversationID)
}

func TestEditRegenerateAndNavigate(t *testing.T) {
	f := newFakeServer()
	records := append(pair("p1", nil, "q1", "a1", 0, 0), pair("p2", strPtr("p1"), "q2", "a2", 1, 2)...)
	transcript := func(id string, _ interface{}) []*chatws.Message {
		return []*chatws.Message{chatws.NewMessageWithID(chatws.TypeTranscript, &service.TranscriptResponse{Records: records}, id)}
	}
	f.replies[chatws.TypeTranscriptGet] = transcript
	f.replies[chatws.TypeBranchPrev] = transcript
	done := func(id string, _ interface{}) []*chatws.Message {
		return []*chatws.Message{chatws.NewMessageWithID(chatws.TypeChatDone, &service.Completion{ConversationID: "c1", PairID: "p3", Persisted: true, BranchIndex: 2, BranchCount: 3}, id)}
	}
	f.replies[chatws.TypeChatEdit] = done
	f.replies[chatws.TypeChatRegenerate] = done

	var out bytes.Buffer
	s := New(f, f.events, &out, "")
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "c1"))
	require.Contains(t, out.String(), "[2/2]")

	require.NoError(t, s.Handle(ctx, "/edit better question", nil))
	edit := f.sent[1].Payload.(*chatws.ChatEditPayload)
	require.Equal(t, "p2", edit.PairID)
	require.Equal(t, "better question", edit.Query)
	require.Contains(t, out.String(), "分支 3/3")

	require.NoError(t, s.Handle(ctx, "/regen", nil))
	regen := f.sent[3].Payload.(*chatws.ChatRegeneratePayload)
	require.Equal(t, "p2", regen.PairID)

	require.NoError(t, s.Handle(ctx, "/prev", nil))
	nav := f.sent[5].Payload.(*chatws.BranchPayload)
	require.Equal(t, "p1", nav.PairID)
	require.Equal(t, "c1", nav.ConversationID)

	// 按序号指定消息对
	require.NoError(t, s.Handle(ctx, "/regen 1", nil))
	require.Equal(t, "p1", f.sent[6].Payload.(*chatws.ChatRegeneratePayload).PairID)
	require.NoError(t, s.Handle(ctx, "/edit 1 first again", nil))
	edit = f.sent[8].Payload.(*chatws.ChatEditPayload)
	require.Equal(t, "p1", edit.PairID)
	require.Equal(t, "first again", edit.Query)
	require.Error(t, s.Handle(ctx, "/prev 1", nil))
	require.Error(t, s.Handle(ctx, "/regen 3", nil))
}

func TestCommandErrors(t *testing.T) {
	f := newFakeServer()
	f.replies[chatws.TypeChatStop] = func(id string, _ interface{}) []*chatws.Message {
		return []*chatws.Message{chatws.NewMessageWithID(chatws.TypeError, &chatws.ErrorPayload{Code: 1000, Message: "没有进行中的生成"}, id)}
	}
	s := New(f, f.events, &bytes.Buffer{}, "")
	ctx := context.Background()

	require.ErrorIs(t, s.Handle(ctx, "/quit", nil), ErrQuit)
	require.Error(t, s.Handle(ctx, "/edit x", nil))
	require.Error(t, s.Handle(ctx, "/regen", nil))
	require.Error(t, s.Handle(ctx, "/next", nil))
	require.Error(t, s.Handle(ctx, "/bogus", nil))
	require.ErrorContains(t, s.Handle(ctx, "/stop", nil), "没有进行中的生成")
	require.NoError(t, s.Handle(ctx, "   ", nil))
}

func TestInterruptStopsGeneration(t *testing.T) {
	f := newFakeServer()
	var genID string
	f.replies[chatws.TypeChatSend] = func(id string, _ interface{}) []*chatws.Message {
		genID = id
		return []*chatws.Message{chatws.NewMessageWithID(chatws.TypeChatChunk, &chatws.ChatChunkPayload{Delta: "part"}, id)}
	}
	f.replies[chatws.TypeChatStop] = func(string, interface{}) []*chatws.Message {
		return []*chatws.Message{chatws.NewMessageWithID(chatws.TypeChatError, &chatws.ChatErrorPayload{Stage: service.StageCancelled}, genID)}
	}

	var out bytes.Buffer
	s := New(f, f.events, &out, "")
	stop := make(chan struct{}, 1)
	stop <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Handle(ctx, "long", stop))
	require.Contains(t, out.String(), "已停止")
	require.Empty(t, s.ConversationID())
	require.Equal(t, chatws.TypeChatStop, f.sent[1].Type)
}
