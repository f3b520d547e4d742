package llm

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultContextSize 未知模型的上下文窗口大小
const DefaultContextSize = 32768

// MinReservedTokens 为回复预留的最少 token 数
const MinReservedTokens = 64

var modelContextSizes = map[string]int{
	"gemini-2.5-flash": 32768,
	"gemini-2.1":       32768,
	"gpt-4o":           32768,
	"gpt-4":            8192,
	"gpt-4-32k":        32768,
}

// ContextSize 返回模型的上下文窗口大小
func ContextSize(model string) int {
	if size, ok := modelContextSizes[model]; ok {
		return size
	}
	return DefaultContextSize
}

// Counter 计算一段文本的 token 数
type Counter interface {
	Count(text string) int
}

// EstimateTokens 按每 4 个字符 1 个 token 估算，至少为 1
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// HeuristicCounter 使用 EstimateTokens 计数
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return EstimateTokens(text)
}

// TiktokenCounter 使用 tiktoken 编码计数
// 模型没有对应编码时退回 cl100k_base，编码失败时退回估算
type TiktokenCounter struct {
	mu     sync.Mutex
	codecs map[string]tokenizer.Codec
}

// NewTiktokenCounter 创建 TiktokenCounter
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{codecs: make(map[string]tokenizer.Codec)}
}

// ForModel 返回绑定到某个模型的 Counter
func (c *TiktokenCounter) ForModel(model string) Counter {
	return modelCounter{parent: c, model: model}
}

func (c *TiktokenCounter) codec(model string) tokenizer.Codec {
	c.mu.Lock()
	defer c.mu.Unlock()

	if codec, ok := c.codecs[model]; ok {
		return codec
	}
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			codec = nil
		}
	}
	c.codecs[model] = codec
	return codec
}

type modelCounter struct {
	parent *TiktokenCounter
	model  string
}

func (m modelCounter) Count(text string) int {
	codec := m.parent.codec(m.model)
	if codec == nil {
		return EstimateTokens(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return EstimateTokens(text)
	}
	if len(ids) == 0 {
		return 1
	}
	return len(ids)
}

// Budget 返回可用于上下文的 token 数
// contextSize - max(64, reserved)，不小于 0
func Budget(contextSize, reserved int) int {
	if reserved < MinReservedTokens {
		reserved = MinReservedTokens
	}
	allowed := contextSize - reserved
	if allowed < 0 {
		return 0
	}
	return allowed
}

// Trim 让对话轮次适配上下文窗口
// 系统轮次总是保留；其余轮次从最新往前加入，直到下一轮会超出预算为止
// 不截断单个轮次，返回结果保持时间顺序，系统轮次在前
func Trim(turns []Turn, budget int, counter Counter) []Turn {
	if counter == nil {
		counter = HeuristicCounter{}
	}

	var system, others []Turn
	total := 0
	for _, t := range turns {
		if t.Role == RoleSystem {
			system = append(system, t)
			total += counter.Count(t.Content)
		} else {
			others = append(others, t)
		}
	}

	out := make([]Turn, 0, len(turns))
	out = append(out, system...)
	if total >= budget {
		return out
	}

	start := len(others)
	for i := len(others) - 1; i >= 0; i-- {
		n := counter.Count(turnText(others[i]))
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	return append(out, others[start:]...)
}

// turnText 计数用的文本，图片地址也占用上下文
func turnText(t Turn) string {
	if len(t.Images) == 0 {
		return t.Content
	}
	return t.Content + "\n" + strings.Join(t.Images, "\n")
}
