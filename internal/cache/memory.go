package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
)

// ==================== 用户记忆 ====================
// 每个用户一个 List，新记忆在表头，超过上限的旧记忆被裁掉

// 每个用户保留的记忆条数
const maxMemories = 200

// 单条记忆中回复部分的最大长度（字符）
const memoryResponseRunes = 300

// Memory 一条用户记忆
type Memory struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	Response       string `json:"response"` // 过长时已截断
	CreatedAt      int64  `json:"created_at"`
}

// Text 注入上下文时使用的文本
func (m Memory) Text() string {
	return fmt.Sprintf("用户: %s\n回复: %s", m.Query, m.Response)
}

// AddMemory 把一轮问答记入用户记忆
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - conversationID: 来源会话
//   - query: 用户提问
//   - response: 回复，过长时截断
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) AddMemory(ctx context.Context, userID int64, conversationID, query, response string) error {
	data, err := json.Marshal(Memory{
		ConversationID: conversationID,
		Query:          strings.TrimSpace(query),
		Response:       truncateRunes(strings.TrimSpace(response), memoryResponseRunes),
		CreatedAt:      time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	key := memoryKey(userID)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxMemories-1)
	_, err = pipe.Exec(ctx)
	return err
}

// SearchMemories 按关键词重合度查找相关记忆
// 没有任何词重合的记忆不返回；得分相同时较新的在前
func (c *RedisCache) SearchMemories(ctx context.Context, userID int64, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	terms := memoryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	raw, err := c.client.LRange(ctx, memoryKey(userID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type scored struct {
		content string
		score   int
		order   int
	}
	var hits []scored
	for i, item := range raw {
		var m Memory
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		score := 0
		for term := range memoryTerms(m.Query + " " + m.Response) {
			if _, ok := terms[term]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{content: m.Text(), score: score, order: i})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.content
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// memoryTerms 小写后的词集合
// 拉丁字母按单词切分并忽略单字符；汉字逐字作为词
func memoryTerms(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	var word []rune
	flush := func() {
		if len(word) > 1 {
			terms[string(word)] = struct{}{}
		}
		word = word[:0]
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			terms[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return terms
}

func memoryKey(userID int64) string {
	return fmt.Sprintf("user:%d:memories", userID)
}
