package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vini334/healthcost-copilot/internal/evidence"
	"github.com/Vini334/healthcost-copilot/internal/llm"
)

// defaultMaxHistory 是单次执行上下文中保留消息数的默认上限。
const defaultMaxHistory = 20

// Context 承载一次请求在各执行器之间流转的全部状态。
// 一个 Context 只属于一次请求,并行执行时通过 Clone 隔离。
type Context struct {
	ExecutionID    string
	ConversationID string
	ClientID       string
	ContractID     string
	Query          string
	CreatedAt      time.Time

	maxHistory int

	Messages []llm.Message
	Chunks   []evidence.Chunk
	CostData map[string]any
	Analysis map[string]string
	Metadata map[string]any
}

// ContextOption 定义执行上下文的可选配置。
type ContextOption func(*Context)

// WithMaxHistory 覆盖消息数上限。
func WithMaxHistory(size int) ContextOption {
	return func(c *Context) {
		if size > 0 {
			c.maxHistory = size
		}
	}
}

// NewContext 创建一次请求的执行上下文。
func NewContext(query, clientID, contractID string, opts ...ContextOption) *Context {
	c := &Context{
		ExecutionID: uuid.NewString(),
		ClientID:    clientID,
		ContractID:  contractID,
		Query:       query,
		CreatedAt:   time.Now(),
		maxHistory:  defaultMaxHistory,
		CostData:    make(map[string]any),
		Analysis:    make(map[string]string),
		Metadata:    make(map[string]any),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// memoryBlockKey 是元数据区中会话记忆块的键。
const memoryBlockKey = "memory_block"

// SetMemoryBlock 登记会话记忆块,执行器会把它拼进系统提示词。
func (c *Context) SetMemoryBlock(block string) {
	c.Metadata[memoryBlockKey] = block
}

// MemoryBlock 返回已登记的会话记忆块,没有时为空串。
func (c *Context) MemoryBlock() string {
	block, _ := c.Metadata[memoryBlockKey].(string)
	return block
}

// directSearchKey 是元数据区中直接检索开关的键。
const directSearchKey = "direct_search"

// SetDirectSearch 控制检索执行器是否走无模型调用的直接检索。
func (c *Context) SetDirectSearch(enabled bool) {
	c.Metadata[directSearchKey] = enabled
}

// DirectSearch 返回直接检索开关,未设置时默认开启。
func (c *Context) DirectSearch() bool {
	if enabled, ok := c.Metadata[directSearchKey].(bool); ok {
		return enabled
	}
	return true
}

// SetSystemPrompt 确保消息列表以给定的 system 消息开头。
// 已存在 system 消息时只替换首条,不新增。
func (c *Context) SetSystemPrompt(prompt string) {
	for i := range c.Messages {
		if c.Messages[i].Role == llm.RoleSystem {
			c.Messages[i].Content = prompt
			return
		}
	}
	c.Messages = append([]llm.Message{{Role: llm.RoleSystem, Content: prompt}}, c.Messages...)
}

// AddMessage 追加一条消息并执行历史裁剪。
func (c *Context) AddMessage(msg llm.Message) {
	c.Messages = append(c.Messages, msg)
	c.trimHistory()
}

// trimHistory 在消息数超限时淘汰最旧的非 system 消息。
// system 消息永不被淘汰,且整体相对顺序保持不变。
func (c *Context) trimHistory() {
	if c.maxHistory <= 0 || len(c.Messages) <= c.maxHistory {
		return
	}
	excess := len(c.Messages) - c.maxHistory
	kept := make([]llm.Message, 0, c.maxHistory)
	for _, msg := range c.Messages {
		if excess > 0 && msg.Role != llm.RoleSystem {
			excess--
			continue
		}
		kept = append(kept, msg)
	}
	c.Messages = kept
}

// AddChunks 合并检索结果到上下文。
func (c *Context) AddChunks(chunks []evidence.Chunk) {
	c.Chunks = append(c.Chunks, chunks...)
}

// Clone 深拷贝上下文,供并行执行器独立修改。
func (c *Context) Clone() *Context {
	clone := &Context{
		ExecutionID:    c.ExecutionID,
		ConversationID: c.ConversationID,
		ClientID:       c.ClientID,
		ContractID:     c.ContractID,
		Query:          c.Query,
		CreatedAt:      c.CreatedAt,
		maxHistory:     c.maxHistory,
		Messages:       append([]llm.Message(nil), c.Messages...),
		Chunks:         append([]evidence.Chunk(nil), c.Chunks...),
		CostData:       make(map[string]any, len(c.CostData)),
		Analysis:       make(map[string]string, len(c.Analysis)),
		Metadata:       make(map[string]any, len(c.Metadata)),
	}
	for k, v := range c.CostData {
		clone.CostData[k] = v
	}
	for k, v := range c.Analysis {
		clone.Analysis[k] = v
	}
	for k, v := range c.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// MergeFrom 把另一个上下文中积累的类型化产出合并进来。
// 顺序执行与混合执行的汇聚阶段使用。克隆体带着合并前的全部切片,
// 因此按 chunk ID 去重,只吸收对方新增的部分。
func (c *Context) MergeFrom(other *Context) {
	if other == nil {
		return
	}
	seen := make(map[string]struct{}, len(c.Chunks))
	for _, chunk := range c.Chunks {
		seen[chunk.ID] = struct{}{}
	}
	for _, chunk := range other.Chunks {
		if chunk.ID != "" {
			if _, dup := seen[chunk.ID]; dup {
				continue
			}
			seen[chunk.ID] = struct{}{}
		}
		c.Chunks = append(c.Chunks, chunk)
	}
	for k, v := range other.CostData {
		c.CostData[k] = v
	}
	for k, v := range other.Analysis {
		c.Analysis[k] = v
	}
	for k, v := range other.Metadata {
		c.Metadata[k] = v
	}
}

// Store 管理进行中的执行上下文,并提供跨执行器的共享键值区。
// 作为显式依赖注入,不存在包级全局实例。
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	shared   map[string]map[string]any
	maxAge   time.Duration
}

// NewStore 创建上下文管理器。maxAge 控制悬挂上下文的回收阈值。
func NewStore(maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Store{
		contexts: make(map[string]*Context),
		shared:   make(map[string]map[string]any),
		maxAge:   maxAge,
	}
}

// Put 登记一个执行上下文。
func (s *Store) Put(c *Context) {
	if c == nil || c.ExecutionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.ExecutionID] = c
}

// Get 返回指定执行的上下文。
func (s *Store) Get(executionID string) (*Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[executionID]
	return c, ok
}

// SetShared 写入执行范围内的共享键值。
func (s *Store) SetShared(executionID, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bag, ok := s.shared[executionID]
	if !ok {
		bag = make(map[string]any)
		s.shared[executionID] = bag
	}
	bag[key] = value
}

// GetShared 读取执行范围内的共享键值。
func (s *Store) GetShared(executionID, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bag, ok := s.shared[executionID]
	if !ok {
		return nil, false
	}
	value, ok := bag[key]
	return value, ok
}

// Release 移除执行上下文及其共享键值。
func (s *Store) Release(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, executionID)
	delete(s.shared, executionID)
}

// Sweep 回收超过 maxAge 的悬挂上下文,返回回收数量。
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-s.maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.contexts {
		if c.CreatedAt.Before(cutoff) {
			delete(s.contexts, id)
			delete(s.shared, id)
			removed++
		}
	}
	return removed
}
