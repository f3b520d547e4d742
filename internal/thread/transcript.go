package thread

import (
	"time"

	"galaxy-chat/internal/model"
)

// 展示记录的角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Record 一条展示记录
// 每个消息对展开为一条用户记录和一条助手记录，ID 分别为 <pairID>-user / <pairID>-assistant
type Record struct {
	ID          string             `json:"id"`
	PairID      string             `json:"pair_id"`
	ParentID    *string            `json:"parent_id,omitempty"`
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Artifacts   []string           `json:"generated_artifacts,omitempty"`
	BranchIndex int                `json:"branch_index"`
	BranchCount int                `json:"branch_count"`
	IsEdited    bool               `json:"is_edited,omitempty"`
	Pending     bool               `json:"pending,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Transcript 把路径展开成展示记录
// 回复为空的消息对仍然输出助手记录，并标记 Pending
func Transcript(path []Node) []Record {
	out := make([]Record, 0, len(path)*2)
	for _, n := range path {
		p := n.Pair
		out = append(out, Record{
			ID:          p.ID + "-user",
			PairID:      p.ID,
			ParentID:    p.ParentID,
			Role:        RoleUser,
			Content:     p.Query,
			Attachments: p.Attachments,
			BranchIndex: n.BranchIndex,
			BranchCount: n.BranchCount,
			IsEdited:    p.IsEdited,
			CreatedAt:   p.CreatedAt,
		}, Record{
			ID:          p.ID + "-assistant",
			PairID:      p.ID,
			ParentID:    p.ParentID,
			Role:        RoleAssistant,
			Content:     p.Response,
			Artifacts:   p.GeneratedArtifacts,
			BranchIndex: n.BranchIndex,
			BranchCount: n.BranchCount,
			Pending:     p.Response == "",
			CreatedAt:   p.CreatedAt,
		})
	}
	return out
}

// Pairs 取出路径上的消息对
func Pairs(path []Node) []*model.MessagePair {
	out := make([]*model.MessagePair, len(path))
	for i, n := range path {
		out[i] = n.Pair
	}
	return out
}
