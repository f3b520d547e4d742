// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"galaxy-chat/internal/model"
)

// ConversationRepository 会话数据访问层
// 负责会话相关的所有数据库操作
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建 ConversationRepository 实例
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create 创建新会话
// 参数:
//   - ctx: 上下文
//   - conv: 会话对象，ID 由调用方生成
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// GetByID 根据 ID 获取会话
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - *model.Conversation: 会话对象，未找到返回 nil
//   - error: 数据库错误
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// ListByUserID 获取用户未归档的会话
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - limit: 最大数量
//
// 返回:
//   - []model.Conversation: 会话列表，按最近消息时间倒序
//   - error: 数据库错误
func (r *ConversationRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND archived = ?", userID, false).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&convs).Error
	return convs, err
}

// Rename 修改会话标题
func (r *ConversationRepository) Rename(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
}

// SetArchived 归档或取消归档会话
func (r *ConversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("archived", archived).Error
}

// Touch 记录一次新消息
// total_tokens 使用 SQL 表达式自增，并发请求不会互相覆盖
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//   - at: 消息时间
//   - tokens: 本次消耗的 token 数
//   - modelName: 本次使用的模型
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) Touch(ctx context.Context, id string, at time.Time, tokens int, modelName string) error {
	fields := map[string]interface{}{
		"last_message_at": at,
		"total_tokens":    gorm.Expr("total_tokens + ?", tokens),
	}
	if modelName != "" {
		fields["model"] = modelName
	}
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// Delete 删除会话
// 在同一个事务中级联删除消息对、分支登记和图片关联
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pairIDs := tx.Model(&model.MessagePair{}).Select("id").Where("conversation_id = ?", id)

		if err := tx.Where("parent_id IN (?) OR branch_id IN (?)", pairIDs, pairIDs).
			Delete(&model.PairBranch{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pair_id IN (?)", pairIDs).Delete(&model.PairArtifact{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.MessagePair{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Conversation{}).Error
	})
}
