package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/storage/mysql"
)

// MySQLStore 把会话持久化到 MySQL。消息与摘要以 JSON 列存储,
// 查询维度只有会话 id 与客户 id。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已建立的连接创建会话存储,并确保数据表存在。
func NewMySQLStore(conn *mysql.Connection) (*MySQLStore, error) {
	if conn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接为空")
	}
	store := &MySQLStore{db: conn.DB()}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS conversations (
        id VARCHAR(36) PRIMARY KEY,
        client_id VARCHAR(64) NOT NULL,
        contract_id VARCHAR(64) NOT NULL DEFAULT '',
        title VARCHAR(255) NOT NULL DEFAULT '',
        status VARCHAR(16) NOT NULL DEFAULT 'active',
        messages JSON NOT NULL,
        summaries JSON NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_client_updated (client_id, updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 conversations 表失败")
	}
	return nil
}

// Save 写入或覆盖一个会话。
func (s *MySQLStore) Save(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话为空")
	}

	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话消息失败")
	}
	summaries, err := json.Marshal(conv.Summaries)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话摘要失败")
	}

	const stmt = `INSERT INTO conversations
        (id, client_id, contract_id, title, status, messages, summaries, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        title = VALUES(title), status = VALUES(status), messages = VALUES(messages),
        summaries = VALUES(summaries), updated_at = VALUES(updated_at)`

	if _, err := s.db.ExecContext(ctx, stmt,
		conv.ID,
		conv.ClientID,
		conv.ContractID,
		conv.Title,
		string(conv.Status),
		messages,
		summaries,
		conv.CreatedAt.UnixMilli(),
		conv.UpdatedAt.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Load 返回指定会话。
func (s *MySQLStore) Load(ctx context.Context, id string) (*Conversation, error) {
	const query = `SELECT id, client_id, contract_id, title, status, messages, summaries, created_at, updated_at
        FROM conversations WHERE id = ?`

	conv, err := s.scanOne(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "会话不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	return conv, nil
}

// ListByClient 返回某客户的会话,按最近更新排序。
func (s *MySQLStore) ListByClient(ctx context.Context, clientID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, client_id, contract_id, title, status, messages, summaries, created_at, updated_at
        FROM conversations WHERE client_id = ? ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := s.scanOne(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话记录失败")
	}
	return conversations, nil
}

// Delete 删除一个会话。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *MySQLStore) scanOne(row rowScanner) (*Conversation, error) {
	var (
		conv                 Conversation
		status               string
		messages, summaries  []byte
		createdAt, updatedAt int64
	)
	if err := row.Scan(&conv.ID, &conv.ClientID, &conv.ContractID, &conv.Title, &status,
		&messages, &summaries, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.Status = Status(status)
	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return nil, err
	}
	if len(summaries) > 0 {
		if err := json.Unmarshal(summaries, &conv.Summaries); err != nil {
			return nil, err
		}
	}
	conv.CreatedAt = time.UnixMilli(createdAt)
	conv.UpdatedAt = time.UnixMilli(updatedAt)
	return &conv, nil
}

var _ Store = (*MySQLStore)(nil)
