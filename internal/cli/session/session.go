// Package session 实现命令行对话会话
// 会话维护当前会话 ID 和最近一次拉取的展示记录，把用户输入翻译成 WebSocket 消息
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"galaxy-chat/internal/service"
	"galaxy-chat/internal/thread"
	chatws "galaxy-chat/internal/websocket"
)

// ErrQuit 用户请求退出
var ErrQuit = errors.New("quit")

// Sender 发送 WebSocket 消息，返回 message_id
type Sender interface {
	Send(msgType string, payload interface{}) (string, error)
}

// Session 一个交互式对话会话
type Session struct {
	sender Sender
	events <-chan *chatws.Message
	out    io.Writer
	model  string

	conversationID string
	records        []thread.Record
}

// New 创建会话
// 参数:
//   - sender: WebSocket 客户端
//   - events: 服务端推送的消息
//   - out: 输出位置
//   - model: 默认模型，为空时使用服务端配置
func New(sender Sender, events <-chan *chatws.Message, out io.Writer, model string) *Session {
	return &Session{sender: sender, events: events, out: out, model: model}
}

// ConversationID 当前会话 ID，新会话为空
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Records 最近一次拉取的展示记录
func (s *Session) Records() []thread.Record {
	return s.records
}

// Open 切换到已有会话并打印内容
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.conversationID = conversationID
	return s.refresh(ctx, true)
}

// Handle 处理一行输入
// stop 收到信号时取消正在进行的生成
// 返回 ErrQuit 表示用户要求退出
func (s *Session) Handle(ctx context.Context, line string, stop <-chan struct{}) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.generate(ctx, stop, chatws.TypeChatSend, &chatws.ChatSendPayload{
			ConversationID: s.conversationID,
			Query:          line,
			Model:          s.model,
		})
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return ErrQuit

	case "/help":
		s.printHelp()
		return nil

	case "/new":
		s.conversationID = ""
		s.records = nil
		fmt.Fprintln(s.out, "已开始新会话")
		return nil

	case "/open":
		if arg == "" {
			return errors.New("用法: /open <会话ID>")
		}
		return s.Open(ctx, arg)

	case "/show":
		if s.conversationID == "" {
			return errors.New("当前会话还没有消息")
		}
		return s.refresh(ctx, true)

	case "/stop":
		id, err := s.sender.Send(chatws.TypeChatStop, nil)
		if err != nil {
			return err
		}
		_, err = s.await(ctx, nil, id)
		return err

	case "/edit":
		target, text, err := s.targetPair(arg)
		if err != nil {
			return err
		}
		if text == "" {
			return errors.New("用法: /edit [序号] <新的提问>")
		}
		return s.generate(ctx, stop, chatws.TypeChatEdit, &chatws.ChatEditPayload{
			PairID: target.PairID,
			Query:  text,
			Model:  s.model,
		})

	case "/regen":
		target, _, err := s.targetPair(arg)
		if err != nil {
			return err
		}
		return s.generate(ctx, stop, chatws.TypeChatRegenerate, &chatws.ChatRegeneratePayload{
			PairID: target.PairID,
			Model:  s.model,
		})

	case "/prev", "/next":
		point, err := s.branchPoint(arg)
		if err != nil {
			return err
		}
		msgType := chatws.TypeBranchPrev
		if cmd == "/next" {
			msgType = chatws.TypeBranchNext
		}
		return s.transcript(ctx, msgType, &chatws.BranchPayload{
			ConversationID: s.conversationID,
			PairID:         point,
		}, true)

	default:
		return fmt.Errorf("未知命令 %s，输入 /help 查看帮助", cmd)
	}
}

// generate 发起一次生成，流式打印回复
// 完成后刷新展示记录
func (s *Session) generate(ctx context.Context, stop <-chan struct{}, msgType string, payload interface{}) error {
	id, err := s.sender.Send(msgType, payload)
	if err != nil {
		return err
	}

	fmt.Fprint(s.out, "\nassistant> ")
	msg, err := s.await(ctx, stop, id)
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}

	switch msg.Type {
	case chatws.TypeChatError:
		var p chatws.ChatErrorPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if p.Stage == service.StageCancelled {
			fmt.Fprintln(s.out, "(已停止，本轮未保存)")
			return nil
		}
		return fmt.Errorf("生成失败 (%s): %s", p.Stage, p.Message)

	case chatws.TypeChatDone:
		var done service.Completion
		if err := msg.Decode(&done); err != nil {
			return err
		}
		if !done.Persisted {
			if done.SaveError != "" {
				fmt.Fprintf(s.out, "(保存失败: %s)\n", done.SaveError)
			}
			return nil
		}
		s.conversationID = done.ConversationID
		if done.BranchCount > 1 {
			fmt.Fprintf(s.out, "(分支 %d/%d)\n", done.BranchIndex+1, done.BranchCount)
		}
		return s.refresh(ctx, false)
	}
	return nil
}

// refresh 重新拉取当前会话内容
func (s *Session) refresh(ctx context.Context, print bool) error {
	return s.transcript(ctx, chatws.TypeTranscriptGet, &chatws.TranscriptGetPayload{
		ConversationID: s.conversationID,
	}, print)
}

func (s *Session) transcript(ctx context.Context, msgType string, payload interface{}, print bool) error {
	id, err := s.sender.Send(msgType, payload)
	if err != nil {
		return err
	}
	msg, err := s.await(ctx, nil, id)
	if err != nil {
		return err
	}

	var tr service.TranscriptResponse
	if err := msg.Decode(&tr); err != nil {
		return err
	}
	s.records = tr.Records
	if print {
		s.printRecords()
	}
	return nil
}

// await 等待 message_id 对应的最终消息
// 期间打印增量文本，其他请求的消息被忽略
func (s *Session) await(ctx context.Context, stop <-chan struct{}, id string) (*chatws.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-stop:
			if _, err := s.sender.Send(chatws.TypeChatStop, nil); err != nil {
				return nil, err
			}
			stop = nil

		case msg, ok := <-s.events:
			if !ok {
				return nil, errors.New("连接已断开")
			}
			if msg.MessageID != id {
				continue
			}
			switch msg.Type {
			case chatws.TypeChatChunk:
				var p chatws.ChatChunkPayload
				if err := msg.Decode(&p); err == nil {
					fmt.Fprint(s.out, p.Delta)
				}
			case chatws.TypePong:
			case chatws.TypeError:
				var p chatws.ErrorPayload
				if err := msg.Decode(&p); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("%s (code %d)", p.Message, p.Code)
			default:
				return msg, nil
			}
		}
	}
}

// pairs 当前路径上每个消息对的用户记录，序号从 1 开始
func (s *Session) pairs() []*thread.Record {
	var out []*thread.Record
	for i := range s.records {
		if s.records[i].Role == thread.RoleUser {
			out = append(out, &s.records[i])
		}
	}
	return out
}

// targetPair 解析可选的序号参数，省略时取最后一个消息对
// 返回目标记录和序号之后的文本
func (s *Session) targetPair(arg string) (*thread.Record, string, error) {
	pairs := s.pairs()
	if len(pairs) == 0 {
		return nil, "", errors.New("当前会话还没有消息")
	}
	first, rest, _ := strings.Cut(arg, " ")
	n, err := strconv.Atoi(first)
	if err != nil {
		return pairs[len(pairs)-1], arg, nil
	}
	if n < 1 || n > len(pairs) {
		return nil, "", fmt.Errorf("序号超出范围 (1-%d)", len(pairs))
	}
	return pairs[n-1], strings.TrimSpace(rest), nil
}

// branchPoint 分支切换的父节点
// 指定序号时取该消息对的父节点，否则取路径上最靠后的、存在兄弟分支的消息对
func (s *Session) branchPoint(arg string) (string, error) {
	if arg != "" {
		target, _, err := s.targetPair(arg)
		if err != nil {
			return "", err
		}
		if target.ParentID == nil {
			return "", errors.New("根消息没有可切换的分支")
		}
		return *target.ParentID, nil
	}

	pairs := s.pairs()
	for i := len(pairs) - 1; i >= 0; i-- {
		if pairs[i].ParentID != nil && pairs[i].BranchCount > 1 {
			return *pairs[i].ParentID, nil
		}
	}
	return "", errors.New("当前路径上没有可切换的分支")
}

func (s *Session) printRecords() {
	fmt.Fprintf(s.out, "── 会话 %s ──\n", s.conversationID)
	n := 0
	for _, r := range s.records {
		switch r.Role {
		case thread.RoleUser:
			n++
			marker := fmt.Sprintf(" #%d", n)
			if r.BranchCount > 1 {
				marker += fmt.Sprintf(" [%d/%d]", r.BranchIndex+1, r.BranchCount)
			}
			if r.IsEdited {
				marker += " (已编辑)"
			}
			fmt.Fprintf(s.out, "\nyou%s> %s\n", marker, r.Content)
		case thread.RoleAssistant:
			content := r.Content
			if r.Pending {
				content = "(无回复)"
			}
			fmt.Fprintf(s.out, "assistant> %s\n", content)
		}
	}
	fmt.Fprintln(s.out)
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, `命令:
  /new            开始新会话
  /open <ID>      打开已有会话
  /show           显示当前会话
  /edit [n] <提问>  编辑第 n 条提问（默认最后一条），生成新分支
  /regen [n]        重新生成第 n 条回复
  /prev [n]         切换第 n 条所在分支点的上一个分支（默认最近的分支点）
  /next [n]         切换到下一个分支
  /stop           停止当前生成（也可以按 Ctrl+C）
  /quit           退出`)
}
