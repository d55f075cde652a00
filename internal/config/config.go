package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// Config 描述 copilot 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Storage      StorageConfig      `json:"storage"`
	Queue        QueueConfig        `json:"queue"`
	LLM          LLMConfig          `json:"llm"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Memory       MemoryConfig       `json:"memory"`
	Knowledge    KnowledgeConfig    `json:"knowledge"`
	Auth         AuthConfig         `json:"auth"`
	Alerting     AlertingConfig     `json:"alerting"`
	Logging      logger.Config      `json:"logging"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
// 指标端点挂载在主服务的 /metrics 路径下,无需独立端口。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述会话与任务持久化后端的连接信息。
type StorageConfig struct {
	ConversationStore BackendConfig `json:"conversation_store"`
	JobStore          BackendConfig `json:"job_store"`
}

// BackendConfig 目前支持 memory 与 mysql 两种驱动。
type BackendConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 描述异步任务队列的实现方式。
type QueueConfig struct {
	Driver     string         `json:"driver"`
	Redis      RedisConfig    `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Key              string `json:"key"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	QueueName  string `json:"queue_name"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 把秒数换算为 time.Duration,便于直接传给客户端。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OrchestratorConfig 汇集编排器的调优参数。
// 阈值与迭代上限来自线上经验值，可按租户覆盖。
type OrchestratorConfig struct {
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	MaxIterations       map[string]int `json:"max_iterations"`
	MaxHistorySize      int            `json:"max_history_size"`
	ToolTimeoutSeconds  int            `json:"tool_timeout_seconds"`
	TrackerHistorySize  int            `json:"tracker_history_size"`
}

// MemoryConfig 控制会话记忆的 token 预算与摘要触发条件。
type MemoryConfig struct {
	TokenBudget       int `json:"token_budget"`
	SummarizeMessages int `json:"summarize_messages"`
	SummarizeTokens   int `json:"summarize_tokens"`
	KeepRecent        int `json:"keep_recent"`
}

// KnowledgeConfig 指向静态知识库与成本数据文件。
type KnowledgeConfig struct {
	DocumentsPath string `json:"documents_path"`
	CostDataPath  string `json:"cost_data_path"`
	ToolpacksDir  string `json:"toolpacks_dir"`
	MaxResults    int    `json:"max_results"`
}

// AuthConfig 描述 API Key 认证的开关、后端与种子密钥。
// 种子密钥仅在启动阶段写入存储,配置文件中只保留明文 key 的引导用途。
type AuthConfig struct {
	Mode  string           `json:"mode"`
	Store string           `json:"store"`
	Seeds []AuthSeedConfig `json:"seeds"`
}

// AuthSeedConfig 定义一条待引导的 API Key。
type AuthSeedConfig struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
	Disabled bool     `json:"disabled"`
}

// AlertingConfig 指定任务失败告警的投递端点。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.ConversationStore.Driver == "" {
		c.Storage.ConversationStore.Driver = "memory"
	}
	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "copilot:jobs"
	}
	if c.Queue.RabbitMQ.QueueName == "" {
		c.Queue.RabbitMQ.QueueName = "copilot.jobs"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "memory"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}

	if c.Orchestrator.ConfidenceThreshold <= 0 {
		c.Orchestrator.ConfidenceThreshold = 0.6
	}
	if c.Orchestrator.MaxHistorySize <= 0 {
		c.Orchestrator.MaxHistorySize = 20
	}
	if c.Orchestrator.ToolTimeoutSeconds <= 0 {
		c.Orchestrator.ToolTimeoutSeconds = 30
	}
	if c.Orchestrator.TrackerHistorySize <= 0 {
		c.Orchestrator.TrackerHistorySize = 100
	}

	if c.Memory.TokenBudget <= 0 {
		c.Memory.TokenBudget = 8000
	}
	if c.Memory.SummarizeMessages <= 0 {
		c.Memory.SummarizeMessages = 20
	}
	if c.Memory.SummarizeTokens <= 0 {
		c.Memory.SummarizeTokens = 6000
	}
	if c.Memory.KeepRecent <= 0 {
		c.Memory.KeepRecent = 5
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 5
	}
	if c.Knowledge.DocumentsPath != "" && !filepath.IsAbs(c.Knowledge.DocumentsPath) {
		c.Knowledge.DocumentsPath = filepath.Join(baseDir, c.Knowledge.DocumentsPath)
	}
	if c.Knowledge.CostDataPath != "" && !filepath.IsAbs(c.Knowledge.CostDataPath) {
		c.Knowledge.CostDataPath = filepath.Join(baseDir, c.Knowledge.CostDataPath)
	}
	if c.Knowledge.ToolpacksDir != "" && !filepath.IsAbs(c.Knowledge.ToolpacksDir) {
		c.Knowledge.ToolpacksDir = filepath.Join(baseDir, c.Knowledge.ToolpacksDir)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
