// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"galaxy-chat/internal/cache"
	"galaxy-chat/internal/config"
	"galaxy-chat/internal/llm"
	"galaxy-chat/internal/logger"
	"galaxy-chat/internal/model"
	"galaxy-chat/internal/repository"
	"galaxy-chat/internal/thread"
)

// StatusPublisher 生成状态通知接口
// *cache.RedisCache 实现了该接口
type StatusPublisher interface {
	PublishStatus(ctx context.Context, userID int64, event cache.StatusEvent) error
	MarkGenerating(ctx context.Context, userID int64, conversationID string, ttl time.Duration) error
	ClearGenerating(ctx context.Context, userID int64, conversationID string) error
}

// MemoryStore 用户长期记忆
// *cache.RedisCache 实现了该接口
type MemoryStore interface {
	SearchMemories(ctx context.Context, userID int64, query string, limit int) ([]string, error)
	AddMemory(ctx context.Context, userID int64, conversationID, query, response string) error
}

// 记忆读写的超时，超时按失败处理
const memoryTimeout = 3 * time.Second

// 没有配置系统提示词时，带记忆的系统轮次使用的提示
const memoryPrompt = "You are a helpful AI assistant. Use the following context from previous conversations to provide more personalized and contextual responses."

// CounterSource 按模型提供 token 计数器
type CounterSource interface {
	ForModel(model string) llm.Counter
}

// EventType 生成事件类型
type EventType string

const (
	EventChunk EventType = "chunk" // 增量文本
	EventDone  EventType = "done"  // 生成完成，带 Completion
	EventError EventType = "error" // 生成失败，带 *GenerationError
)

// Event 生成过程中的一个事件
// 每次生成以恰好一个 done 或 error 事件结束，随后通道关闭
type Event struct {
	Type       EventType
	Delta      string
	Completion *Completion
	Err        error
}

// Completion 生成完成后的元数据
type Completion struct {
	ConversationID   string    `json:"conversation_id,omitempty"`
	PairID           string    `json:"pair_id,omitempty"` // 未持久化时为空
	ParentID         *string   `json:"parent_id,omitempty"`
	BranchIndex      int       `json:"branch_index"`
	BranchCount      int       `json:"branch_count"`
	Model            string    `json:"model"`
	FinishReason     string    `json:"finish_reason"`
	Usage            llm.Usage `json:"usage"`
	Persisted        bool      `json:"persisted"`
	SaveError        string    `json:"save_error,omitempty"`
	BranchRegistered bool      `json:"branch_registered"`
}

// GenerateInput 一次生成的输入
type GenerateInput struct {
	UserID         int64
	ConversationID string     // 为空且需要持久化时自动创建会话
	PriorTurns     []llm.Turn // 作为上下文的历史轮次
	Query          string
	Attachments    []model.Attachment
	ParentID       *string // 非空时新消息对登记为该消息对的分支
	Model          string  // 为空时使用默认模型
	Persist        bool    // false 表示临时会话，不写任何数据
}

// ChatService 生成编排服务
// 负责调用生成服务、转发流式片段，并在结束信号之后持久化结果
type ChatService struct {
	conversations repository.ConversationStore
	pairs         repository.PairStore
	provider      llm.Provider
	cfg           config.AIConfig
	counters      CounterSource
	status        StatusPublisher
	memory        MemoryStore
	log           *logger.Logger
	now           func() time.Time
}

// NewChatService 创建 ChatService 实例
func NewChatService(
	conversations repository.ConversationStore,
	pairs repository.PairStore,
	provider llm.Provider,
	cfg config.AIConfig,
	log *logger.Logger,
) *ChatService {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatService{
		conversations: conversations,
		pairs:         pairs,
		provider:      provider,
		cfg:           cfg,
		counters:      llm.NewTiktokenCounter(),
		log:           log.With("service", "ChatService"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetStatusPublisher 设置状态通知器
func (s *ChatService) SetStatusPublisher(p StatusPublisher) {
	s.status = p
}

// SetMemoryStore 设置用户记忆，nil 表示关闭
func (s *ChatService) SetMemoryStore(m MemoryStore) {
	s.memory = m
}

// SetClock 替换时钟
func (s *ChatService) SetClock(now func() time.Time) {
	s.now = now
}

// SetCounterSource 替换 token 计数器
func (s *ChatService) SetCounterSource(c CounterSource) {
	s.counters = c
}

// Generate 执行一轮生成
// 校验错误同步返回，之后的所有结果通过事件通道传递
// 调用方必须读取通道直到关闭
// 参数:
//   - ctx: 上下文，取消后放弃本次生成且不写入任何数据
//   - in: 生成输入
//
// 返回:
//   - <-chan Event: 事件通道
//   - error: 校验错误或会话、父消息不存在
func (s *ChatService) Generate(ctx context.Context, in GenerateInput) (<-chan Event, error) {
	if err := validateTurnInput(in.Query, in.Attachments); err != nil {
		return nil, err
	}

	job := &generation{in: in}
	if in.Persist {
		if in.ConversationID != "" {
			conv, err := ownedConversation(ctx, s.conversations, in.UserID, in.ConversationID)
			if err != nil {
				return nil, err
			}
			job.conv = conv
		}
		if in.ParentID != nil {
			if job.conv == nil {
				return nil, ErrParentMismatch
			}
			parent, err := s.pairs.GetByID(ctx, *in.ParentID)
			if err != nil {
				return nil, err
			}
			if parent == nil {
				return nil, ErrPairNotFound
			}
			if parent.ConversationID != job.conv.ID {
				return nil, ErrParentMismatch
			}
			job.parent = parent
		}
	}

	modelName := s.pickModel(in.Model, in.Attachments)
	job.req = llm.Request{
		Model:       modelName,
		Turns:       s.buildTurns(modelName, s.recall(ctx, in), in.PriorTurns, userTurn(in.Query, in.Attachments)),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.cfg.StreamTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.StreamTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	out := make(chan Event, 16)
	go s.run(runCtx, cancel, job, out)
	return out, nil
}

// generation 一次生成的内部状态
type generation struct {
	in     GenerateInput
	conv   *model.Conversation
	parent *model.MessagePair
	req    llm.Request
}

func (g *generation) conversationID() string {
	if g.conv != nil {
		return g.conv.ID
	}
	return ""
}

func (s *ChatService) run(ctx context.Context, cancel context.CancelFunc, job *generation, out chan<- Event) {
	defer close(out)
	defer cancel()

	log := s.log.With("user_id", job.in.UserID, "conversation_id", job.conversationID(), "model", job.req.Model)
	s.markStarted(ctx, job)

	text, finish, usage, err := s.consume(ctx, job.req, out)
	if err != nil {
		genErr := classify(ctx, err)
		if genErr.Stage == StageUpstream {
			log.Warn("generation failed", "error", err)
		} else {
			log.Info("generation stopped", "stage", genErr.Stage)
		}
		s.markFinished(ctx, job, "", genErr)
		out <- Event{Type: EventError, Err: genErr}
		return
	}

	completion := &Completion{
		ConversationID: job.conversationID(),
		ParentID:       job.in.ParentID,
		Model:          job.req.Model,
		FinishReason:   finish,
		Usage:          usage,
	}
	if job.in.Persist {
		// 结束信号已收到，写入不再受调用方取消影响
		s.persist(context.WithoutCancel(ctx), log, job, text, completion)
		if completion.Persisted {
			s.remember(context.WithoutCancel(ctx), job, completion.ConversationID, text)
		}
	}
	s.markFinished(ctx, job, completion.PairID, nil)
	out <- Event{Type: EventDone, Completion: completion}
}

// consume 读取上游流并转发片段
// 返回完整文本、结束原因和用量；没有结束信号的流视为失败
func (s *ChatService) consume(ctx context.Context, req llm.Request, out chan<- Event) (string, string, llm.Usage, error) {
	var usage llm.Usage
	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		return "", "", usage, err
	}
	defer stream.Close()

	var (
		b      strings.Builder
		finish string
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if finish == "" {
				return "", "", usage, llm.ErrNoFinish
			}
			return b.String(), finish, usage, nil
		}
		if err != nil {
			return "", "", usage, err
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Delta == "" {
			continue
		}
		b.WriteString(chunk.Delta)
		select {
		case out <- Event{Type: EventChunk, Delta: chunk.Delta}:
		case <-ctx.Done():
			return "", "", usage, ctx.Err()
		}
	}
}

// persist 写入消息对、登记分支并更新会话
// 失败只记录在 Completion 中，不影响已经发给调用方的内容
func (s *ChatService) persist(ctx context.Context, log *logger.Logger, job *generation, text string, c *Completion) {
	now := s.now()

	conv := job.conv
	if conv == nil {
		conv = &model.Conversation{
			ID:            uuid.NewString(),
			UserID:        job.in.UserID,
			Title:         model.TitleFromQuery(job.in.Query),
			Model:         job.req.Model,
			LastMessageAt: now,
			CreatedAt:     now,
		}
		if err := s.conversations.Create(ctx, conv); err != nil {
			log.Error("create conversation failed", "error", err)
			c.SaveError = err.Error()
			return
		}
	}
	c.ConversationID = conv.ID

	pair := &model.MessagePair{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Query:          job.in.Query,
		Response:       text,
		Attachments:    job.in.Attachments,
		ParentID:       job.in.ParentID,
		TokenCount:     c.Usage.TotalTokens,
		Model:          job.req.Model,
		FinishReason:   c.FinishReason,
		CreatedAt:      now,
	}
	if job.parent != nil {
		pair.Depth = job.parent.Depth + 1
	}
	if err := s.pairs.Create(ctx, pair); err != nil {
		log.Error("save pair failed", "error", err)
		c.SaveError = err.Error()
		return
	}
	c.Persisted = true
	c.PairID = pair.ID

	if pair.ParentID != nil {
		if err := s.pairs.AddBranch(ctx, *pair.ParentID, pair.ID); err != nil {
			log.Warn("register branch failed", "pair_id", pair.ID, "parent_id", *pair.ParentID, "error", err)
		} else {
			c.BranchRegistered = true
		}
		c.BranchIndex, c.BranchCount = s.branchPosition(ctx, log, conv.ID, pair.ID)
	}

	if err := s.conversations.Touch(ctx, conv.ID, now, c.Usage.TotalTokens, job.req.Model); err != nil {
		log.Warn("touch conversation failed", "error", err)
	}
}

func (s *ChatService) branchPosition(ctx context.Context, log *logger.Logger, conversationID, pairID string) (int, int) {
	pairs, err := s.pairs.ListByConversationID(ctx, conversationID)
	if err != nil {
		log.Warn("load branches failed", "error", err)
		return 0, 0
	}
	return thread.NewTree(pairs).BranchPosition(pairID)
}

func (s *ChatService) markStarted(ctx context.Context, job *generation) {
	if s.status == nil || !job.in.Persist {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if id := job.conversationID(); id != "" {
		if err := s.status.MarkGenerating(ctx, job.in.UserID, id, s.markerTTL()); err != nil {
			s.log.Debug("mark generating failed", "error", err)
		}
	}
	s.publish(ctx, job.in.UserID, cache.StatusEvent{
		ConversationID: job.conversationID(),
		Status:         cache.StatusStarted,
	})
}

func (s *ChatService) markFinished(ctx context.Context, job *generation, pairID string, genErr *GenerationError) {
	if s.status == nil || !job.in.Persist {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if id := job.conversationID(); id != "" {
		if err := s.status.ClearGenerating(ctx, job.in.UserID, id); err != nil {
			s.log.Debug("clear generating failed", "error", err)
		}
	}
	ev := cache.StatusEvent{ConversationID: job.conversationID(), PairID: pairID, Status: cache.StatusCompleted}
	if genErr != nil {
		ev.Status = cache.StatusFailed
		if genErr.Stage != StageUpstream {
			ev.Status = cache.StatusCancelled
		}
		ev.Error = genErr.Error()
	}
	s.publish(ctx, job.in.UserID, ev)
}

func (s *ChatService) publish(ctx context.Context, userID int64, ev cache.StatusEvent) {
	if err := s.status.PublishStatus(ctx, userID, ev); err != nil {
		s.log.Debug("publish status failed", "error", err)
	}
}

func (s *ChatService) markerTTL() time.Duration {
	if s.cfg.StreamTimeout > 0 {
		return s.cfg.StreamTimeout + time.Minute
	}
	return 10 * time.Minute
}

// pickModel 带图片附件时切换到视觉模型
func (s *ChatService) pickModel(requested string, attachments []model.Attachment) string {
	m := requested
	if m == "" {
		m = s.cfg.Model
	}
	if s.cfg.VisionModel != "" && hasImage(attachments) {
		m = s.cfg.VisionModel
	}
	return m
}

// recall 查找与本次提问相关的记忆
// 临时会话不读记忆；查询失败只记录日志
func (s *ChatService) recall(ctx context.Context, in GenerateInput) []string {
	if s.memory == nil || !in.Persist || strings.TrimSpace(in.Query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, memoryTimeout)
	defer cancel()
	memories, err := s.memory.SearchMemories(ctx, in.UserID, in.Query, s.memoryLimit())
	if err != nil {
		s.log.Warn("search memories failed", "user_id", in.UserID, "error", err)
		return nil
	}
	return memories
}

// remember 在后台把本轮问答写入记忆，不阻塞结束事件
func (s *ChatService) remember(ctx context.Context, job *generation, conversationID, text string) {
	if s.memory == nil || strings.TrimSpace(job.in.Query) == "" || text == "" {
		return
	}
	userID, query := job.in.UserID, job.in.Query
	go func() {
		ctx, cancel := context.WithTimeout(ctx, memoryTimeout)
		defer cancel()
		if err := s.memory.AddMemory(ctx, userID, conversationID, query, text); err != nil {
			s.log.Warn("add memory failed", "user_id", userID, "conversation_id", conversationID, "error", err)
		}
	}()
}

func (s *ChatService) memoryLimit() int {
	if s.cfg.MemoryLimit > 0 {
		return s.cfg.MemoryLimit
	}
	return 5
}

// systemPrompt 系统提示词，有记忆时附在后面
func (s *ChatService) systemPrompt(memories []string) string {
	if len(memories) == 0 {
		return s.cfg.SystemPrompt
	}
	var b strings.Builder
	if s.cfg.SystemPrompt != "" {
		b.WriteString(s.cfg.SystemPrompt)
	} else {
		b.WriteString(memoryPrompt)
	}
	b.WriteString("\n\n[Context from memory]:")
	for _, m := range memories {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String()
}

// buildTurns 拼接系统提示、记忆、历史和新轮次，并裁剪到上下文窗口内
// 新轮次即使超出预算也会保留
func (s *ChatService) buildTurns(modelName string, memories []string, prior []llm.Turn, newTurn llm.Turn) []llm.Turn {
	all := make([]llm.Turn, 0, len(prior)+2)
	if prompt := s.systemPrompt(memories); prompt != "" {
		all = append(all, llm.Turn{Role: llm.RoleSystem, Content: prompt})
	}
	all = append(all, prior...)
	all = append(all, newTurn)

	var counter llm.Counter
	if s.counters != nil {
		counter = s.counters.ForModel(modelName)
	}
	budget := llm.Budget(llm.ContextSize(modelName), s.cfg.ReservedTokens)
	trimmed := llm.Trim(all, budget, counter)

	for _, t := range trimmed {
		if t.Role != llm.RoleSystem {
			return trimmed
		}
	}
	return append(trimmed, newTurn)
}

// classify 区分上游失败、超时和主动取消
func classify(ctx context.Context, err error) *GenerationError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &GenerationError{Stage: StageTimeout, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return &GenerationError{Stage: StageCancelled, Err: err}
	default:
		return &GenerationError{Stage: StageUpstream, Err: err}
	}
}

func validateTurnInput(query string, attachments []model.Attachment) error {
	if strings.TrimSpace(query) == "" && len(attachments) == 0 {
		return ErrEmptyQuery
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" {
			return ErrInvalidAttachment
		}
	}
	return nil
}

func hasImage(attachments []model.Attachment) bool {
	for _, a := range attachments {
		if a.IsImage() {
			return true
		}
	}
	return false
}

// userTurn 图片附件作为图片传给模型，其他附件以文字说明附在提问后
func userTurn(query string, attachments []model.Attachment) llm.Turn {
	t := llm.Turn{Role: llm.RoleUser, Content: query}
	var notes []string
	for _, a := range attachments {
		if a.IsImage() {
			t.Images = append(t.Images, a.URL)
			continue
		}
		name := a.Name
		if name == "" {
			name = "file"
		}
		notes = append(notes, fmt.Sprintf("[attachment: %s (%s) %s]", name, a.Type, a.URL))
	}
	if len(notes) > 0 {
		t.Content = strings.TrimSpace(query + "\n\n" + strings.Join(notes, "\n"))
	}
	return t
}

// TurnsFromPath 把线性路径转换为生成服务的历史轮次
// 回复为空的消息对只输出用户轮次
func TurnsFromPath(path []thread.Node) []llm.Turn {
	turns := make([]llm.Turn, 0, len(path)*2)
	for _, n := range path {
		p := n.Pair
		turns = append(turns, userTurn(p.Query, p.Attachments))
		if p.Response != "" {
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: p.Response})
		}
	}
	return turns
}

// ==================== 对外操作 ====================

// SendRequest 发送新消息
type SendRequest struct {
	UserID         int64
	ConversationID string
	ParentID       *string
	Query          string
	Attachments    []model.Attachment
	Model          string
	Temporary      bool
	Selections     thread.Selections
	History        []llm.Turn // 临时会话由客户端提供上下文
}

// Send 发送新消息
// 持久化会话使用当前分支选择下的完整路径作为上下文
func (s *ChatService) Send(ctx context.Context, req SendRequest) (<-chan Event, error) {
	if err := validateTurnInput(req.Query, req.Attachments); err != nil {
		return nil, err
	}
	in := GenerateInput{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Attachments:    req.Attachments,
		ParentID:       req.ParentID,
		Model:          req.Model,
		Persist:        !req.Temporary,
	}
	if req.Temporary {
		in.PriorTurns = req.History
		return s.Generate(ctx, in)
	}
	if req.ConversationID != "" {
		_, tree, err := loadConversationTree(ctx, s.conversations, s.pairs, req.UserID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		in.PriorTurns = TurnsFromPath(tree.Build(req.Selections))
	}
	return s.Generate(ctx, in)
}

// EditRequest 编辑提问并生成新分支
type EditRequest struct {
	UserID      int64
	PairID      string
	Query       string
	Attachments []model.Attachment // nil 表示沿用原附件
	Model       string
	Selections  thread.Selections
}

// Edit 以被编辑消息对的父节点为父节点生成新的兄弟分支
// 原消息对不做任何修改
func (s *ChatService) Edit(ctx context.Context, req EditRequest) (<-chan Event, error) {
	target, prior, err := s.locate(ctx, req.UserID, req.PairID, req.Selections)
	if err != nil {
		return nil, err
	}
	attachments := req.Attachments
	if attachments == nil {
		attachments = target.Attachments
	}
	if err := validateTurnInput(req.Query, attachments); err != nil {
		return nil, err
	}
	return s.Generate(ctx, GenerateInput{
		UserID:         req.UserID,
		ConversationID: target.ConversationID,
		PriorTurns:     prior,
		Query:          req.Query,
		Attachments:    attachments,
		ParentID:       copyID(target.ParentID),
		Model:          req.Model,
		Persist:        true,
	})
}

// RegenerateRequest 重新生成回复
type RegenerateRequest struct {
	UserID     int64
	PairID     string
	Model      string
	Selections thread.Selections
}

// Regenerate 使用相同的提问和附件生成新回复，新消息对挂在原消息对下
func (s *ChatService) Regenerate(ctx context.Context, req RegenerateRequest) (<-chan Event, error) {
	target, prior, err := s.locate(ctx, req.UserID, req.PairID, req.Selections)
	if err != nil {
		return nil, err
	}
	parentID := target.ID
	return s.Generate(ctx, GenerateInput{
		UserID:         req.UserID,
		ConversationID: target.ConversationID,
		PriorTurns:     prior,
		Query:          target.Query,
		Attachments:    target.Attachments,
		ParentID:       &parentID,
		Model:          req.Model,
		Persist:        true,
	})
}

// locate 找到目标消息对以及它之前的路径
// 分支选择会先调整到让目标出现在路径上
func (s *ChatService) locate(ctx context.Context, userID int64, pairID string, selections thread.Selections) (*model.MessagePair, []llm.Turn, error) {
	target, err := s.pairs.GetByID(ctx, pairID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, ErrPairNotFound
	}
	_, tree, err := loadConversationTree(ctx, s.conversations, s.pairs, userID, target.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	sel := thread.NewSelectorFrom(selections)
	if !tree.Focus(sel, target.ID) {
		return nil, nil, ErrPairNotFound
	}
	path, ok := tree.PathBefore(sel, target.ID)
	if !ok {
		return nil, nil, ErrPairNotFound
	}
	return target, TurnsFromPath(path), nil
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
