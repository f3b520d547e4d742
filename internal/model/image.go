// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"
)

// GeneratedImage 生成图片模型
// 对应数据库表 generated_images
// 通过 pair_artifacts 关联到触发生成的消息对
type GeneratedImage struct {
	// ID 图片唯一标识（UUID）
	ID string `gorm:"size:36;primaryKey" json:"id"`

	// UserID 所属用户ID
	UserID int64 `gorm:"index;not null" json:"user_id"`

	// PairID 关联的消息对，可为空
	PairID *string `gorm:"size:36;index" json:"pair_id,omitempty"`

	// Prompt 生成提示词
	Prompt string `gorm:"type:text;not null" json:"prompt"`

	// URL 对外访问地址
	URL string `gorm:"size:1000;not null" json:"url"`

	// StorageKey 对象存储中的 key
	StorageKey string `gorm:"size:500;not null" json:"-"`

	// Model 使用的图片模型
	Model string `gorm:"size:100" json:"model"`

	// Format 图片格式，如 png / jpeg
	Format string `gorm:"size:20" json:"format"`

	// CreatedAt 创建时间
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (GeneratedImage) TableName() string {
	return "generated_images"
}
