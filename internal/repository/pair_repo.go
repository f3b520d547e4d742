// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"galaxy-chat/internal/model"
)

// PairRepository 消息对数据访问层
// 负责消息对、分支登记和图片关联的数据库操作
type PairRepository struct {
	db *gorm.DB
}

// NewPairRepository 创建 PairRepository 实例
func NewPairRepository(db *gorm.DB) *PairRepository {
	return &PairRepository{db: db}
}

// Create 创建新消息对
// 参数:
//   - ctx: 上下文
//   - pair: 消息对对象，ID 和 CreatedAt 由调用方填充
//
// 返回:
//   - error: 数据库错误
func (r *PairRepository) Create(ctx context.Context, pair *model.MessagePair) error {
	return r.db.WithContext(ctx).Create(pair).Error
}

// GetByID 根据 ID 获取消息对
// 同时填充 BranchIDs 和 GeneratedArtifacts
// 参数:
//   - ctx: 上下文
//   - id: 消息对ID
//
// 返回:
//   - *model.MessagePair: 消息对，未找到返回 nil
//   - error: 数据库错误
func (r *PairRepository) GetByID(ctx context.Context, id string) (*model.MessagePair, error) {
	var pair model.MessagePair
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pair).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.fillRelations(ctx, []*model.MessagePair{&pair}); err != nil {
		return nil, err
	}
	return &pair, nil
}

// ListByConversationID 获取会话的全部消息对
// 参数:
//   - ctx: 上下文
//   - conversationID: 会话ID
//
// 返回:
//   - []*model.MessagePair: 消息对列表，按创建时间正序
//   - error: 数据库错误
func (r *PairRepository) ListByConversationID(ctx context.Context, conversationID string) ([]*model.MessagePair, error) {
	var pairs []*model.MessagePair
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&pairs).Error
	if err != nil {
		return nil, err
	}
	if err := r.fillRelations(ctx, pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// AddBranch 把 branchID 登记为 parentID 的分支
// (parent_id, branch_id) 是主键，重复登记被 ON CONFLICT DO NOTHING 吸收
// 参数:
//   - ctx: 上下文
//   - parentID: 父消息对ID
//   - branchID: 新消息对ID
//
// 返回:
//   - error: 数据库错误
func (r *PairRepository) AddBranch(ctx context.Context, parentID, branchID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.PairBranch{
			ParentID:  parentID,
			BranchID:  branchID,
			CreatedAt: time.Now(),
		}).Error
}

// UpdateQuery 原地修改提问
// original_query 只在第一次编辑时记录
// 参数:
//   - ctx: 上下文
//   - id: 消息对ID
//   - query: 新的提问
//
// 返回:
//   - error: 数据库错误
func (r *PairRepository) UpdateQuery(ctx context.Context, id, query string) error {
	return r.db.WithContext(ctx).
		Model(&model.MessagePair{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"original_query": gorm.Expr("COALESCE(original_query, query)"),
			"query":          query,
			"is_edited":      true,
		}).Error
}

// AddArtifact 关联生成图片
func (r *PairRepository) AddArtifact(ctx context.Context, pairID, imageID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.PairArtifact{
			PairID:    pairID,
			ImageID:   imageID,
			CreatedAt: time.Now(),
		}).Error
}

// fillRelations 批量填充分支和图片关联
func (r *PairRepository) fillRelations(ctx context.Context, pairs []*model.MessagePair) error {
	if len(pairs) == 0 {
		return nil
	}
	ids := make([]string, len(pairs))
	byID := make(map[string]*model.MessagePair, len(pairs))
	for i, p := range pairs {
		ids[i] = p.ID
		byID[p.ID] = p
		p.BranchIDs = []string{}
		p.GeneratedArtifacts = []string{}
	}

	var branches []model.PairBranch
	if err := r.db.WithContext(ctx).
		Where("parent_id IN ?", ids).
		Order("created_at ASC").
		Order("branch_id ASC").
		Find(&branches).Error; err != nil {
		return err
	}
	for _, b := range branches {
		if p, ok := byID[b.ParentID]; ok {
			p.BranchIDs = append(p.BranchIDs, b.BranchID)
		}
	}

	var artifacts []model.PairArtifact
	if err := r.db.WithContext(ctx).
		Where("pair_id IN ?", ids).
		Order("created_at ASC").
		Find(&artifacts).Error; err != nil {
		return err
	}
	for _, a := range artifacts {
		if p, ok := byID[a.PairID]; ok {
			p.GeneratedArtifacts = append(p.GeneratedArtifacts, a.ImageID)
		}
	}
	return nil
}
