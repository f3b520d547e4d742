// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"
)

// DefaultConversationTitle 首条消息为空时使用的标题
const DefaultConversationTitle = "New Chat"

// Conversation 会话模型
// 对应数据库表 conversations
// 一个会话包含若干消息对，消息对之间通过 ParentID 组成分支树
type Conversation struct {
	// ID 会话唯一标识（UUID）
	ID string `gorm:"size:36;primaryKey" json:"id"`

	// UserID 所属用户ID，来自 JWT
	UserID int64 `gorm:"index;not null" json:"user_id"`

	// Title 会话标题
	// 默认取第一条提问的前 50 个字符
	Title string `gorm:"size:255;not null" json:"title"`

	// Model 会话最近使用的模型
	Model string `gorm:"size:100" json:"model"`

	// TotalTokens 会话累计消耗的 token 数
	// 通过原子自增更新，不做读改写
	TotalTokens int64 `gorm:"not null;default:0" json:"total_tokens"`

	// LastMessageAt 最近一次消息时间，会话列表按此倒序
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`

	// Archived 是否已归档，归档的会话不出现在列表中
	Archived bool `gorm:"not null;default:false;index" json:"archived"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}

// TitleFromQuery 由首条提问生成会话标题
func TitleFromQuery(query string) string {
	runes := []rune(query)
	if len(runes) == 0 {
		return DefaultConversationTitle
	}
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}
