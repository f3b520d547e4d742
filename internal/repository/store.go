// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"time"

	"galaxy-chat/internal/model"
)

// ConversationStore 会话存储
// GetByID 未找到时返回 (nil, nil)
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListByUserID(ctx context.Context, userID int64, limit int) ([]model.Conversation, error)
	Rename(ctx context.Context, id, title string) error
	SetArchived(ctx context.Context, id string, archived bool) error
	Touch(ctx context.Context, id string, at time.Time, tokens int, modelName string) error
	Delete(ctx context.Context, id string) error
}

// PairStore 消息对存储
// AddBranch 必须是存储层的原子幂等操作，不能在应用层读改写
type PairStore interface {
	Create(ctx context.Context, pair *model.MessagePair) error
	GetByID(ctx context.Context, id string) (*model.MessagePair, error)
	ListByConversationID(ctx context.Context, conversationID string) ([]*model.MessagePair, error)
	AddBranch(ctx context.Context, parentID, branchID string) error
	UpdateQuery(ctx context.Context, id, query string) error
	AddArtifact(ctx context.Context, pairID, imageID string) error
}

// ImageStore 生成图片存储
type ImageStore interface {
	Create(ctx context.Context, img *model.GeneratedImage) error
	ListByUserID(ctx context.Context, userID int64, limit int) ([]model.GeneratedImage, error)
}

var (
	_ ConversationStore = (*ConversationRepository)(nil)
	_ PairStore         = (*PairRepository)(nil)
	_ ImageStore        = (*ImageRepository)(nil)
)
