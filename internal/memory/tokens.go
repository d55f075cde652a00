package memory

import (
	"strings"
)

// 估算参数。每 token 对应的字符数是对葡语文本的经验近似,
// 精确计数可通过 WithEncoder 注入。
const (
	charsPerToken        = 3.5
	messageOverhead      = 4
	conversationOverhead = 3
	truncationMarker     = "... [truncado]"
)

// Message 是记忆层看到的最小消息视图。
type Message struct {
	Role    string
	Content string
}

// Encoder 可选的精确 token 计数实现。
type Encoder interface {
	CountTokens(text string) int
}

// Counter 统计与裁剪 token 预算。零值即可使用,走估算路径。
type Counter struct {
	encoder Encoder
}

// CounterOption 定义计数器的可选配置。
type CounterOption func(*Counter)

// WithEncoder 注入精确计数实现,缺省时按字符数估算。
func WithEncoder(encoder Encoder) CounterOption {
	return func(c *Counter) {
		c.encoder = encoder
	}
}

// NewCounter 创建 token 计数器。
func NewCounter(opts ...CounterOption) *Counter {
	c := &Counter{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Count 估算一段文本的 token 数。
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder != nil {
		return c.encoder.CountTokens(text)
	}
	tokens := int(float64(len([]rune(text))) / charsPerToken)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// CountMessage 估算一条消息的 token 数,含消息结构开销。
func (c *Counter) CountMessage(msg Message) int {
	return c.Count(msg.Content) + messageOverhead
}

// CountConversation 估算整段对话的 token 数。
func (c *Counter) CountConversation(messages []Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := conversationOverhead
	for _, msg := range messages {
		total += c.CountMessage(msg)
	}
	return total
}

// TruncateToFit 把消息列表裁剪到 budget-reserve 之内。
// system 消息永远保留;最近 preserveRecent 条消息无条件保留;
// 其余消息从最旧开始丢弃。如果保留集合仍然超预算,
// 最长的可裁剪消息会被截断并打上显式标记,而不是被静默丢弃。
// 对已经满足预算的输入,本方法是恒等操作。
func (c *Counter) TruncateToFit(messages []Message, budget, reserve, preserveRecent int) []Message {
	if len(messages) == 0 {
		return nil
	}
	if preserveRecent < 0 {
		preserveRecent = 0
	}
	available := budget - reserve
	if c.CountConversation(messages) <= available {
		return append([]Message(nil), messages...)
	}

	recentFrom := len(messages) - preserveRecent
	if recentFrom < 0 {
		recentFrom = 0
	}

	// 必留集合:system 消息 + 最近 preserveRecent 条。
	required := make([]bool, len(messages))
	for i, msg := range messages {
		if msg.Role == "system" || i >= recentFrom {
			required[i] = true
		}
	}

	kept := append([]Message(nil), messages...)
	dropped := make([]bool, len(messages))
	for i := range kept {
		if required[i] {
			continue
		}
		if c.countSurvivors(kept, dropped) <= available {
			break
		}
		dropped[i] = true
	}

	result := make([]Message, 0, len(kept))
	for i, msg := range kept {
		if !dropped[i] {
			result = append(result, msg)
		}
	}

	// 必留集合本身超预算时截断内容,保留截断标记。
	for c.CountConversation(result) > available {
		longest := -1
		for i, msg := range result {
			if msg.Role == "system" {
				continue
			}
			if longest < 0 || len(msg.Content) > len(result[longest].Content) {
				longest = i
			}
		}
		if longest < 0 {
			break
		}
		content := []rune(result[longest].Content)
		markerLen := len([]rune(truncationMarker))
		if len(content) <= markerLen || len(content)/2+markerLen >= len(content) {
			break
		}
		result[longest].Content = string(content[:len(content)/2]) + truncationMarker
	}
	return result
}

// countSurvivors 统计未被丢弃消息的 token 总量。
func (c *Counter) countSurvivors(messages []Message, dropped []bool) int {
	total := conversationOverhead
	for i, msg := range messages {
		if dropped[i] {
			continue
		}
		total += c.CountMessage(msg)
	}
	return total
}

// Truncated 报告一条消息是否带截断标记。
func Truncated(msg Message) bool {
	return strings.HasSuffix(msg.Content, truncationMarker)
}
