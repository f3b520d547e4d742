// Package thread 负责把消息对分支树展开成一条线性对话
// Selector 记录每个分支点当前展示的分支，Build 按选择结果生成路径
package thread

import "sync"

// IndexReader 读取分支点当前选中的下标
// 未记录的分支点返回 0
type IndexReader interface {
	Index(branchPointID string) int
}

// Selections 是一次请求携带的分支选择，HTTP 渲染接口直接使用
type Selections map[string]int

// Index 实现 IndexReader
func (s Selections) Index(branchPointID string) int {
	return s[branchPointID]
}

// Selector 会话级别的分支选择状态
// 不持久化，连接断开后重置，所有分支点回到下标 0（最早创建的分支）
// 可以被多个 goroutine 同时读写
type Selector struct {
	mu      sync.RWMutex
	indices map[string]int
}

// NewSelector 创建空的 Selector
func NewSelector() *Selector {
	return &Selector{indices: make(map[string]int)}
}

// NewSelectorFrom 用已有的选择初始化 Selector
// 负数下标按 0 处理
func NewSelectorFrom(initial map[string]int) *Selector {
	s := NewSelector()
	for id, idx := range initial {
		if idx < 0 {
			idx = 0
		}
		s.indices[id] = idx
	}
	return s
}

// Index 返回分支点当前选中的下标
func (s *Selector) Index(branchPointID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indices[branchPointID]
}

// Select 设置分支点选中的下标
// 超出 [0, childCount-1] 时截断，不报错
// 返回实际生效的下标
func (s *Selector) Select(branchPointID string, index, childCount int) int {
	index = clamp(index, childCount)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[branchPointID] = index
	return index
}

// Previous 向前切换一个分支，已经是第一个时不变
// 当前下标先按 childCount 截断，越界的下标从最后一个分支往前退
func (s *Selector) Previous(branchPointID string, childCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := clamp(s.indices[branchPointID], childCount) - 1
	if idx < 0 {
		idx = 0
	}
	s.indices[branchPointID] = idx
	return idx
}

// Next 向后切换一个分支，已经是最后一个时不变
func (s *Selector) Next(branchPointID string, childCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := clamp(s.indices[branchPointID]+1, childCount)
	s.indices[branchPointID] = idx
	return idx
}

// Snapshot 返回当前选择的副本
func (s *Selector) Snapshot() Selections {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Selections, len(s.indices))
	for id, idx := range s.indices {
		out[id] = idx
	}
	return out
}

// Reset 清空所有选择
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices = make(map[string]int)
}

func clamp(index, childCount int) int {
	if childCount <= 0 || index < 0 {
		return 0
	}
	if index > childCount-1 {
		return childCount - 1
	}
	return index
}
