package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/auth"
)

// SQLAuthStore persists API keys in MySQL.
type SQLAuthStore struct {
	db *sql.DB
}

// NewSQLAuthStore creates the store on top of an established connection.
func NewSQLAuthStore(conn *Connection) (*SQLAuthStore, error) {
	if conn == nil {
		return nil, errors.New("mysql connection required")
	}
	return &SQLAuthStore{db: conn.DB()}, nil
}

// FindByHash implements auth.Store.
func (s *SQLAuthStore) FindByHash(ctx context.Context, keyHash string) (*auth.Subject, error) {
	const query = `SELECT name, client_id, scopes, disabled FROM api_keys WHERE key_hash = ?`
	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(keyHash))

	var (
		subject  auth.Subject
		scopes   sql.NullString
		disabled int
	)
	if err := row.Scan(&subject.Name, &subject.ClientID, &scopes, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrInvalidKey
		}
		return nil, fmt.Errorf("查询 API Key 失败: %w", err)
	}
	subject.Disabled = disabled == 1
	if scopes.Valid && scopes.String != "" {
		subject.Scopes = splitScopes(scopes.String)
	}
	subject.Normalise()
	return &subject, nil
}

// ApplySeed upserts a bootstrap API key.
func (s *SQLAuthStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	key := strings.TrimSpace(seed.Key)
	if key == "" {
		return errors.New("seed key cannot be empty")
	}
	now := time.Now().Unix()

	const upsert = `INSERT INTO api_keys (key_hash, name, client_id, scopes, disabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), client_id = VALUES(client_id), scopes = VALUES(scopes), disabled = VALUES(disabled), updated_at = VALUES(updated_at)`

	_, err := s.db.ExecContext(ctx, upsert,
		auth.HashKey(key),
		strings.TrimSpace(seed.Name),
		strings.TrimSpace(seed.ClientID),
		joinScopes(seed.Scopes),
		boolToInt(seed.Disabled),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("保存 API Key 失败: %w", err)
	}
	return nil
}

func splitScopes(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		result = append(result, part)
	}
	sort.Strings(result)
	return result
}

func joinScopes(scopes []string) string {
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope == "" {
			continue
		}
		seen[scope] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return strings.Join(result, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ auth.Store = (*SQLAuthStore)(nil)
var _ auth.SeedWriter = (*SQLAuthStore)(nil)
