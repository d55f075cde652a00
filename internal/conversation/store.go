package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
)

// Store 抽象会话的持久化。每次消息追加后都会触发一次 Save,
// 这是系统与持久层之间唯一的写入边界。
type Store interface {
	Save(ctx context.Context, conv *Conversation) error
	Load(ctx context.Context, id string) (*Conversation, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]*Conversation, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore 把会话保存在内存中,并以 JSON 快照落盘,
// 方便本地迭代开发。
type MemoryStore struct {
	mu       sync.RWMutex
	dataFile string
	items    map[string]*Conversation
}

// NewMemoryStore 创建内存会话存储。dataDir 为空时不落盘。
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	store := &MemoryStore{items: make(map[string]*Conversation)}
	if dataDir == "" {
		return store, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store.dataFile = filepath.Join(dataDir, "conversations.log")
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Save 写入或覆盖一个会话。
func (m *MemoryStore) Save(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := cloneConversation(conv)
	m.items[conv.ID] = copied

	if m.dataFile == "" {
		return nil
	}
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开会话日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(copied)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话日志失败")
	}
	return nil
}

// Load 返回指定会话。
func (m *MemoryStore) Load(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.items[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("会话 %s 不存在", id))
	}
	return cloneConversation(conv), nil
}

// ListByClient 返回某客户的会话,按最近更新排序。
func (m *MemoryStore) ListByClient(_ context.Context, clientID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Conversation
	for _, conv := range m.items {
		if conv.ClientID == clientID {
			matched = append(matched, cloneConversation(conv))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Delete 删除一个会话。删除不存在的会话不报错。
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// loadFromDisk 回放快照日志,同一会话的最新快照生效。
func (m *MemoryStore) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取会话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var conv Conversation
		if err := json.Unmarshal(scanner.Bytes(), &conv); err != nil {
			continue
		}
		if conv.ID != "" {
			m.items[conv.ID] = &conv
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析会话日志失败: %w", err)
	}
	return nil
}

func cloneConversation(conv *Conversation) *Conversation {
	copied := *conv
	copied.Messages = append([]Message(nil), conv.Messages...)
	copied.Summaries = append(copied.Summaries[:0:0], conv.Summaries...)
	return &copied
}

var _ Store = (*MemoryStore)(nil)
