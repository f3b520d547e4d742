// Package repository 提供数据访问层的实现
package repository

import (
	"context"

	"gorm.io/gorm"

	"galaxy-chat/internal/model"
)

// ImageRepository 生成图片数据访问层
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository 创建 ImageRepository 实例
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Create 保存生成图片记录
func (r *ImageRepository) Create(ctx context.Context, img *model.GeneratedImage) error {
	return r.db.WithContext(ctx).Create(img).Error
}

// ListByUserID 获取用户的生成图片
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - limit: 最大数量
//
// 返回:
//   - []model.GeneratedImage: 图片列表，最新的在前
//   - error: 数据库错误
func (r *ImageRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]model.GeneratedImage, error) {
	var images []model.GeneratedImage
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&images).Error
	return images, err
}
