// Package model 定义了与数据库表对应的数据结构
package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Attachment 消息对附带的文件引用
type Attachment struct {
	URL  string `json:"url"`            // 文件地址
	Type string `json:"type"`           // MIME 类型，如 image/png
	Name string `json:"name,omitempty"` // 文件名
	Size int64  `json:"size,omitempty"` // 字节数
}

// IsImage 是否为图片附件
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.Type), "image/")
}

// MessagePair 消息对模型
// 对应数据库表 message_pairs
// 一条提问和它的回复作为一个整体存储，是会话历史的最小单元
type MessagePair struct {
	// ID 消息对唯一标识（UUID），创建后不可变
	ID string `gorm:"size:36;primaryKey" json:"id"`

	// ConversationID 所属会话ID
	ConversationID string `gorm:"size:36;index;not null" json:"conversation_id"`

	// Query 用户输入
	// 只有原地编辑会修改它，编辑/重新生成都会新建消息对
	Query string `gorm:"type:text;not null" json:"query"`

	// OriginalQuery 第一次原地编辑前的提问
	OriginalQuery *string `gorm:"type:text" json:"original_query,omitempty"`

	// IsEdited 是否被原地编辑过
	IsEdited bool `gorm:"not null;default:false" json:"is_edited"`

	// Response 生成的回复
	// 只在流式生成完成后写入一次
	Response string `gorm:"type:text" json:"response"`

	// Attachments 附件列表，JSON 列
	Attachments datatypes.JSONSlice[Attachment] `json:"attachments"`

	// ParentID 分支来源的消息对ID
	// NULL 表示顶层轮次；根节点之间是顺序关系而不是分支关系
	ParentID *string `gorm:"size:36;index" json:"parent_id"`

	// Depth 沿 ParentID 链到根的距离，仅用于展示
	Depth int `gorm:"not null;default:0" json:"depth"`

	// TokenCount 生成服务报告的总 token 数
	TokenCount int `gorm:"not null;default:0" json:"token_count"`

	// Model 生成时使用的模型
	Model string `gorm:"size:100" json:"model"`

	// FinishReason 生成结束原因
	FinishReason string `gorm:"size:50" json:"finish_reason"`

	// CreatedAt 创建时间，同一父节点下兄弟节点的排序依据
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at"`

	// BranchIDs 登记在本消息对下的分支ID，按登记顺序
	// 存储在 pair_branches 表，读取时填充
	BranchIDs []string `gorm:"-" json:"branch_ids"`

	// GeneratedArtifacts 与本消息对关联的生成图片ID
	// 存储在 pair_artifacts 表，读取时填充
	GeneratedArtifacts []string `gorm:"-" json:"generated_artifacts"`
}

// TableName 指定表名
func (MessagePair) TableName() string {
	return "message_pairs"
}

// IsRoot 是否为顶层轮次
func (p *MessagePair) IsRoot() bool {
	return p.ParentID == nil
}

// ParentKey 返回父节点ID，根节点返回空字符串
func (p *MessagePair) ParentKey() string {
	if p.ParentID == nil {
		return ""
	}
	return *p.ParentID
}

// PairBranch 分支登记表
// 对应数据库表 pair_branches
// (parent_id, branch_id) 作为联合主键，重复登记由 ON CONFLICT DO NOTHING 吸收
type PairBranch struct {
	ParentID  string    `gorm:"size:36;primaryKey" json:"parent_id"`
	BranchID  string    `gorm:"size:36;primaryKey" json:"branch_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (PairBranch) TableName() string {
	return "pair_branches"
}

// PairArtifact 消息对与生成图片的关联表
type PairArtifact struct {
	PairID    string    `gorm:"size:36;primaryKey" json:"pair_id"`
	ImageID   string    `gorm:"size:36;primaryKey" json:"image_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (PairArtifact) TableName() string {
	return "pair_artifacts"
}
