package thread

import (
	"sort"

	"galaxy-chat/internal/model"
)

// Node 路径上的一个消息对
// 非根节点带有分支信息，用于展示 "2 / 3" 这样的分支导航
type Node struct {
	Pair        *model.MessagePair `json:"pair"`
	BranchIndex int                `json:"branch_index"`
	BranchCount int                `json:"branch_count"` // 根节点为 0
}

// IsBranchPoint 该节点是否处在可切换的分支点上
func (n Node) IsBranchPoint() bool {
	return n.BranchCount > 1
}

// Tree 一个会话全部消息对的父子索引
type Tree struct {
	byID     map[string]*model.MessagePair
	children map[string][]*model.MessagePair // key 为父节点ID，根节点的 key 为 ""
}

// NewTree 按 ParentID 分组并在组内按创建时间排序
// 创建时间相同时按 ID 排序，保证结果稳定
func NewTree(pairs []*model.MessagePair) *Tree {
	t := &Tree{
		byID:     make(map[string]*model.MessagePair, len(pairs)),
		children: make(map[string][]*model.MessagePair),
	}
	for _, p := range pairs {
		if p == nil {
			continue
		}
		t.byID[p.ID] = p
		key := p.ParentKey()
		t.children[key] = append(t.children[key], p)
	}
	for _, group := range t.children {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].ID < group[j].ID
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
	}
	return t
}

// Get 按 ID 查找消息对
func (t *Tree) Get(id string) (*model.MessagePair, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// Roots 返回所有顶层轮次，按创建时间正序
func (t *Tree) Roots() []*model.MessagePair {
	return t.children[""]
}

// Children 返回某个消息对的直接分支，按创建时间正序
// 父节点不存在时返回空
func (t *Tree) Children(id string) []*model.MessagePair {
	if id == "" {
		return nil
	}
	return t.children[id]
}

// Build 根据分支选择展开线性路径
// 根节点全部按顺序输出；每个节点之后只沿选中的分支继续向下
// sel 为 nil 时所有分支点取下标 0
func (t *Tree) Build(sel IndexReader) []Node {
	path := make([]Node, 0, len(t.byID))
	visited := make(map[string]bool, len(t.byID))

	for _, root := range t.Roots() {
		if visited[root.ID] {
			continue
		}
		visited[root.ID] = true
		path = append(path, Node{Pair: root})

		cur := root
		for {
			kids := t.children[cur.ID]
			if len(kids) == 0 {
				break
			}
			idx := 0
			if sel != nil {
				idx = clamp(sel.Index(cur.ID), len(kids))
			}
			next := kids[idx]
			if visited[next.ID] {
				break
			}
			visited[next.ID] = true
			path = append(path, Node{Pair: next, BranchIndex: idx, BranchCount: len(kids)})
			cur = next
		}
	}
	return path
}

// Build 是 NewTree(pairs).Build(sel) 的简写
func Build(pairs []*model.MessagePair, sel IndexReader) []Node {
	return NewTree(pairs).Build(sel)
}

// Focus 调整 sel，使 id 对应的消息对出现在路径上
// 沿父链向上，把每一层的选择设为通向目标的那个分支
// 目标不存在或父链断开时返回 false，sel 不做修改
func (t *Tree) Focus(sel *Selector, id string) bool {
	type step struct {
		parentID string
		index    int
		count    int
	}
	var steps []step

	cur, ok := t.byID[id]
	if !ok {
		return false
	}
	seen := map[string]bool{cur.ID: true}
	for !cur.IsRoot() {
		parent, ok := t.byID[*cur.ParentID]
		if !ok || seen[parent.ID] {
			return false
		}
		seen[parent.ID] = true
		kids := t.children[parent.ID]
		for i, k := range kids {
			if k.ID == cur.ID {
				steps = append(steps, step{parentID: parent.ID, index: i, count: len(kids)})
				break
			}
		}
		cur = parent
	}

	for _, s := range steps {
		sel.Select(s.parentID, s.index, s.count)
	}
	return true
}

// PathBefore 返回路径上位于 id 之前的节点
// id 不在路径上时第二个返回值为 false
func (t *Tree) PathBefore(sel IndexReader, id string) ([]Node, bool) {
	path := t.Build(sel)
	for i, n := range path {
		if n.Pair.ID == id {
			return path[:i], true
		}
	}
	return nil, false
}

// BranchPosition 返回 id 在其父节点分支中的位置和分支总数
// 根节点返回 (0, 0)
func (t *Tree) BranchPosition(id string) (index, count int) {
	p, ok := t.byID[id]
	if !ok || p.IsRoot() {
		return 0, 0
	}
	kids := t.children[*p.ParentID]
	for i, k := range kids {
		if k.ID == id {
			return i, len(kids)
		}
	}
	return 0, 0
}
