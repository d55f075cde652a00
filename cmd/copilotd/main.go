package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/agent"
	"github.com/Vini334/healthcost-copilot/internal/api"
	"github.com/Vini334/healthcost-copilot/internal/auth"
	"github.com/Vini334/healthcost-copilot/internal/config"
	"github.com/Vini334/healthcost-copilot/internal/conversation"
	"github.com/Vini334/healthcost-copilot/internal/copilot"
	"github.com/Vini334/healthcost-copilot/internal/costdata"
	"github.com/Vini334/healthcost-copilot/internal/evidence"
	"github.com/Vini334/healthcost-copilot/internal/job"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/llm/openai"
	"github.com/Vini334/healthcost-copilot/internal/memory"
	"github.com/Vini334/healthcost-copilot/internal/observability/alerting"
	"github.com/Vini334/healthcost-copilot/internal/observability/metrics"
	"github.com/Vini334/healthcost-copilot/internal/orchestrator"
	"github.com/Vini334/healthcost-copilot/internal/storage/mysql"
	"github.com/Vini334/healthcost-copilot/internal/tool"
	"github.com/Vini334/healthcost-copilot/internal/trace"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
	"github.com/Vini334/healthcost-copilot/pkg/toolpack"
)

// contextTTL 限定编排上下文在内存中的保留时间。
const contextTTL = 30 * time.Minute

// main 是 copilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("copilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("COPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "copilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 同一 DSN 的持久化后端共享一个连接池,迁移只在首次打开时执行。
	connections := make(map[string]*mysql.Connection)
	defer func() {
		for _, conn := range connections {
			if err := conn.Close(); err != nil {
				logger.L().Warn("关闭 MySQL 连接失败", slog.String("error", err.Error()))
			}
		}
	}()
	openConnection := func(backend config.BackendConfig) (*mysql.Connection, error) {
		if conn, ok := connections[backend.DSN]; ok {
			return conn, nil
		}
		conn, err := mysql.Open(ctx, mysql.Config{
			DSN:             backend.DSN,
			MaxOpenConns:    backend.MaxOpenConns,
			MaxIdleConns:    backend.MaxIdleConns,
			ConnMaxLifetime: time.Duration(backend.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(backend.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		if err := conn.RunMigrations(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		connections[backend.DSN] = conn
		return conn, nil
	}

	conversationStore, err := createConversationStore(cfg, dataDir, openConnection)
	if err != nil {
		return err
	}

	counter := memory.NewCounter()
	summarizer := memory.NewSummarizer(llmClient, counter,
		memory.WithThresholds(cfg.Memory.SummarizeMessages, cfg.Memory.SummarizeTokens),
		memory.WithKeepRecent(cfg.Memory.KeepRecent),
	)
	conversations, err := conversation.NewService(conversationStore, counter, summarizer,
		conversation.WithTokenBudget(cfg.Memory.TokenBudget),
	)
	if err != nil {
		return err
	}

	registry, err := createToolRegistry(cfg)
	if err != nil {
		return err
	}

	tracker := trace.NewTracker(cfg.Orchestrator.TrackerHistorySize)
	executor := agent.NewExecutor(llmClient, registry,
		agent.WithIterationOverrides(iterationOverrides(cfg.Orchestrator.MaxIterations)),
	)
	orch := orchestrator.New(llmClient, executor,
		orchestrator.WithTracker(tracker),
		orchestrator.WithContextStore(agent.NewStore(contextTTL)),
		orchestrator.WithMaxHistory(cfg.Orchestrator.MaxHistorySize),
		orchestrator.WithConfidenceThreshold(cfg.Orchestrator.ConfidenceThreshold),
	)

	copilotService, err := copilot.NewService(conversations, orch)
	if err != nil {
		return err
	}

	jobStore, err := createJobStore(cfg, openConnection)
	if err != nil {
		return err
	}

	jobQueue, err := createJobQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", slog.String("error", err.Error()))
		}
	}()

	jobs := job.NewService(jobStore, jobQueue, cfg.Queue.MaxRetries)

	processor := job.NewProcessor(copilotService, jobStore, jobQueue, jobQueue,
		job.WithWorkerCount(cfg.Queue.Workers),
		job.WithProcessorLogger(logger.Named("job.processor")),
		job.WithRecoveryHandler(job.DegradedRecovery{}),
		job.WithAlertDispatcher(createAlertDispatcher(cfg)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.String("error", err.Error()))
		}
	}()

	registerMetricSnapshots(tracker, jobs)

	authService, err := createAuthService(ctx, cfg, openConnection)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, copilotService, jobs, conversations,
		api.WithAuth(authService),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createLLMClient 根据配置选择大模型后端。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createConversationStore(cfg *config.Config, dataDir string, open func(config.BackendConfig) (*mysql.Connection, error)) (conversation.Store, error) {
	backend := cfg.Storage.ConversationStore
	switch backend.Driver {
	case "", "memory":
		return conversation.NewMemoryStore(dataDir)
	case "mysql":
		conn, err := open(backend)
		if err != nil {
			return nil, err
		}
		return conversation.NewMySQLStore(conn)
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", backend.Driver)
	}
}

func createJobStore(cfg *config.Config, open func(config.BackendConfig) (*mysql.Connection, error)) (job.Store, error) {
	backend := cfg.Storage.JobStore
	switch backend.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		conn, err := open(backend)
		if err != nil {
			return nil, err
		}
		return job.NewMySQLStore(conn)
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", backend.Driver)
	}
}

func createJobQueue(cfg *config.Config) (job.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return job.NewMemoryQueue(1024), nil
	case "redis":
		return job.NewRedisQueue(job.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Key,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.QueueName,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

// createToolRegistry 装配工具注册表:先注册内置的证据检索与成本数据工具,
// 再加载 toolpack 目录声明的外部 HTTP 工具。
func createToolRegistry(cfg *config.Config) (*tool.Registry, error) {
	registry := tool.NewRegistry(
		tool.WithDefaultTimeout(time.Duration(cfg.Orchestrator.ToolTimeoutSeconds) * time.Second),
	)

	if path := cfg.Knowledge.DocumentsPath; path != "" {
		provider, err := evidence.LoadStaticProvider(path, cfg.Knowledge.MaxResults)
		if err != nil {
			return nil, fmt.Errorf("加载知识库失败: %w", err)
		}
		evidence.RegisterTools(registry, provider)
	}

	if path := cfg.Knowledge.CostDataPath; path != "" {
		provider, err := costdata.LoadStaticProvider(path)
		if err != nil {
			return nil, fmt.Errorf("加载成本数据失败: %w", err)
		}
		costdata.RegisterTools(registry, provider)
	}

	if dir := cfg.Knowledge.ToolpacksDir; dir != "" {
		manifests, err := toolpack.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("加载 toolpack 失败: %w", err)
		}
		loader := toolpack.NewLoader()
		count, err := loader.Apply(registry, manifests...)
		if err != nil {
			return nil, fmt.Errorf("注册 toolpack 工具失败: %w", err)
		}
		logger.L().Info("toolpack 工具已注册", slog.Int("count", count))
	}

	return registry, nil
}

func createAuthService(ctx context.Context, cfg *config.Config, open func(config.BackendConfig) (*mysql.Connection, error)) (*auth.Service, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Key:      seed.Key,
			Name:     seed.Name,
			ClientID: seed.ClientID,
			Scopes:   seed.Scopes,
			Disabled: seed.Disabled,
		})
	}

	var store auth.Store
	switch cfg.Auth.Store {
	case "", "memory":
		memStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, err
		}
		store = memStore
	case "mysql":
		backend := cfg.Storage.JobStore
		if backend.Driver != "mysql" {
			backend = cfg.Storage.ConversationStore
		}
		if backend.Driver != "mysql" {
			return nil, errors.New("认证存储为 mysql 时至少需要一个 mysql 持久化后端")
		}
		conn, err := open(backend)
		if err != nil {
			return nil, err
		}
		sqlStore, err := mysql.NewSQLAuthStore(conn)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	default:
		return nil, fmt.Errorf("未知的认证存储: %s", cfg.Auth.Store)
	}

	return auth.NewService(ctx, auth.Config{Mode: auth.Mode(cfg.Auth.Mode), Seeds: seeds}, store)
}

func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerting.WebhookURL,
			Timeout: time.Duration(cfg.Alerting.TimeoutSeconds) * time.Second,
		})
	}
	return alerting.NewFanout(notifiers...)
}

// registerMetricSnapshots 把编排器与任务管道的聚合数据暴露为 gauge。
func registerMetricSnapshots(tracker *trace.Tracker, jobs *job.Service) {
	metrics.RegisterSnapshot("executions", func() map[string]float64 {
		summary := tracker.Metrics()
		return map[string]float64{
			"total":           float64(summary.Total),
			"completed":       float64(summary.Completed),
			"failed":          float64(summary.Failed),
			"success_rate":    summary.SuccessRate,
			"avg_duration_ms": float64(summary.AvgDuration.Milliseconds()),
		}
	})
	metrics.RegisterSnapshot("jobs", func() map[string]float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stats, err := jobs.Stats(ctx)
		if err != nil {
			return nil
		}
		return map[string]float64{
			"total":     float64(stats.Total),
			"pending":   float64(stats.Pending),
			"running":   float64(stats.Running),
			"succeeded": float64(stats.Succeeded),
			"failed":    float64(stats.Failed),
		}
	})
}

func iterationOverrides(limits map[string]int) map[agent.Kind]int {
	overrides := make(map[agent.Kind]int, len(limits))
	for name, limit := range limits {
		overrides[agent.Kind(name)] = limit
	}
	return overrides
}
