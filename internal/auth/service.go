package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// Service 负责 HTTP 端点的 API Key 认证和作用域校验。
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger
}

// NewService 构造身份认证服务实例,并写入配置中的种子密钥。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		store: store,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
		if store == nil {
			return nil, errors.New("apikey mode requires a key store")
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Seeds) > 0 {
		if writer, ok := store.(SeedWriter); ok {
			for _, seed := range cfg.Seeds {
				if err := writer.ApplySeed(ctx, seed); err != nil {
					return nil, fmt.Errorf("apply seed %s: %w", seed.Name, err)
				}
			}
		}
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证传入请求携带的 API Key 并返回调用方信息。
// 支持 Authorization: Bearer <key> 和 X-API-Key 两种携带方式。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization, apiKeyHeader string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}

	key := strings.TrimSpace(apiKeyHeader)
	if key == "" {
		parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			key = strings.TrimSpace(parts[1])
		}
	}
	if key == "" {
		return nil, ErrMissingKey
	}

	subject, err := s.store.FindByHash(ctx, HashKey(key))
	if err != nil {
		return nil, ErrInvalidKey
	}
	if subject.Disabled {
		return nil, ErrKeyRevoked
	}
	subject.normalise()
	return subject, nil
}
