// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"galaxy-chat/internal/model"
	"galaxy-chat/internal/repository"
	"galaxy-chat/internal/thread"
)

// ConversationListLimit 会话列表的最大数量
const ConversationListLimit = 50

// ConversationService 会话服务
// 处理会话的增删改查以及按分支选择渲染对话
type ConversationService struct {
	conversations repository.ConversationStore
	pairs         repository.PairStore
}

// NewConversationService 创建 ConversationService 实例
func NewConversationService(conversations repository.ConversationStore, pairs repository.PairStore) *ConversationService {
	return &ConversationService{conversations: conversations, pairs: pairs}
}

// TranscriptResponse 渲染结果
type TranscriptResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Records      []thread.Record     `json:"records"`
	Selections   thread.Selections   `json:"selections"`
}

// List 获取用户的会话列表
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//
// 返回:
//   - []model.Conversation: 未归档的会话，最近有消息的在前
//   - error: 数据库错误
func (s *ConversationService) List(ctx context.Context, userID int64) ([]model.Conversation, error) {
	convs, err := s.conversations.ListByUserID(ctx, userID, ConversationListLimit)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

// Create 创建空会话
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - title: 标题，为空时使用默认标题
//   - modelName: 默认模型
//
// 返回:
//   - *model.Conversation: 新会话
//   - error: 数据库错误
func (s *ConversationService) Create(ctx context.Context, userID int64, title, modelName string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultConversationTitle
	}
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         model.TitleFromQuery(title),
		Model:         modelName,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Rename 修改标题
func (s *ConversationService) Rename(ctx context.Context, userID int64, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidInput
	}
	if _, err := ownedConversation(ctx, s.conversations, userID, id); err != nil {
		return err
	}
	return s.conversations.Rename(ctx, id, model.TitleFromQuery(title))
}

// SetArchived 归档或取消归档
func (s *ConversationService) SetArchived(ctx context.Context, userID int64, id string, archived bool) error {
	if _, err := ownedConversation(ctx, s.conversations, userID, id); err != nil {
		return err
	}
	return s.conversations.SetArchived(ctx, id, archived)
}

// Delete 删除会话及其全部消息对
func (s *ConversationService) Delete(ctx context.Context, userID int64, id string) error {
	if _, err := ownedConversation(ctx, s.conversations, userID, id); err != nil {
		return err
	}
	return s.conversations.Delete(ctx, id)
}

// Transcript 按分支选择渲染线性对话
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - id: 会话ID
//   - selections: 分支选择，未出现的分支点取下标 0
//
// 返回:
//   - *TranscriptResponse: 展示记录，每个消息对展开为用户和助手两条
//   - error: 会话不存在或无权访问
func (s *ConversationService) Transcript(ctx context.Context, userID int64, id string, selections thread.Selections) (*TranscriptResponse, error) {
	conv, tree, err := loadConversationTree(ctx, s.conversations, s.pairs, userID, id)
	if err != nil {
		return nil, err
	}
	if selections == nil {
		selections = thread.Selections{}
	}
	return &TranscriptResponse{
		Conversation: conv,
		Records:      thread.Transcript(tree.Build(selections)),
		Selections:   selections,
	}, nil
}

// Branches 获取消息对及其登记的全部分支
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - pairID: 消息对ID
//
// 返回:
//   - []*model.MessagePair: 第一个为消息对本身，之后是按登记顺序排列的分支
//   - error: 消息对不存在或无权访问
func (s *ConversationService) Branches(ctx context.Context, userID int64, pairID string) ([]*model.MessagePair, error) {
	pair, err := s.ownedPair(ctx, userID, pairID)
	if err != nil {
		return nil, err
	}

	branches := make([]*model.MessagePair, len(pair.BranchIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range pair.BranchIDs {
		i, id := i, id
		g.Go(func() error {
			b, err := s.pairs.GetByID(gctx, id)
			if err != nil {
				return err
			}
			branches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*model.MessagePair, 0, len(branches)+1)
	out = append(out, pair)
	for _, b := range branches {
		// 已删除的分支跳过
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

// ChildCount 返回分支点下的分支数量
// 分支点必须属于该会话
func (s *ConversationService) ChildCount(ctx context.Context, userID int64, conversationID, pairID string) (int, error) {
	_, tree, err := loadConversationTree(ctx, s.conversations, s.pairs, userID, conversationID)
	if err != nil {
		return 0, err
	}
	if _, ok := tree.Get(pairID); !ok {
		return 0, ErrPairNotFound
	}
	return len(tree.Children(pairID)), nil
}

// EditInPlace 原地修改提问，不触发生成
// 第一次编辑前的提问保存在 OriginalQuery 中
func (s *ConversationService) EditInPlace(ctx context.Context, userID int64, pairID, query string) (*model.MessagePair, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.ownedPair(ctx, userID, pairID); err != nil {
		return nil, err
	}
	if err := s.pairs.UpdateQuery(ctx, pairID, query); err != nil {
		return nil, err
	}
	return s.pairs.GetByID(ctx, pairID)
}

func (s *ConversationService) ownedPair(ctx context.Context, userID int64, pairID string) (*model.MessagePair, error) {
	pair, err := s.pairs.GetByID(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrPairNotFound
	}
	if _, err := ownedConversation(ctx, s.conversations, userID, pair.ConversationID); err != nil {
		if err == ErrConversationNotFound {
			return nil, ErrPairNotFound
		}
		return nil, err
	}
	return pair, nil
}

// ownedConversation 获取会话并检查归属
func ownedConversation(ctx context.Context, store repository.ConversationStore, userID int64, id string) (*model.Conversation, error) {
	conv, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, ErrNoPermission
	}
	return conv, nil
}

// loadConversationTree 并行读取会话和消息对，检查归属后建立分支树
func loadConversationTree(
	ctx context.Context,
	conversations repository.ConversationStore,
	pairs repository.PairStore,
	userID int64,
	id string,
) (*model.Conversation, *thread.Tree, error) {
	var (
		conv *model.Conversation
		list []*model.MessagePair
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := conversations.GetByID(gctx, id)
		conv = c
		return err
	})
	g.Go(func() error {
		l, err := pairs.ListByConversationID(gctx, id)
		list = l
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, nil, ErrNoPermission
	}
	return conv, thread.NewTree(list), nil
}
