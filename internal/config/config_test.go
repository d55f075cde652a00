package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot.json")
	content := `{
		"llm": {"openai": {"api_key": "sk-teste"}},
		"knowledge": {"documents_path": "knowledge/contratos.yaml"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址错误: %s", cfg.Server.Address)
	}
	if cfg.Storage.JobStore.Driver != "memory" {
		t.Fatalf("默认任务存储驱动错误: %s", cfg.Storage.JobStore.Driver)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.MaxRetries != 3 {
		t.Fatalf("队列默认值错误: workers=%d retries=%d", cfg.Queue.Workers, cfg.Queue.MaxRetries)
	}
	if cfg.Auth.Mode != "disabled" || cfg.Auth.Store != "memory" {
		t.Fatalf("认证默认值错误: mode=%s store=%s", cfg.Auth.Mode, cfg.Auth.Store)
	}
	if cfg.Memory.TokenBudget != 8000 {
		t.Fatalf("记忆默认值错误: %d", cfg.Memory.TokenBudget)
	}
	if cfg.Knowledge.MaxResults != 5 {
		t.Fatalf("知识库默认值错误: %d", cfg.Knowledge.MaxResults)
	}

	expected := filepath.Join(dir, "knowledge", "contratos.yaml")
	if cfg.Knowledge.DocumentsPath != expected {
		t.Fatalf("相对路径未基于配置目录展开: %s", cfg.Knowledge.DocumentsPath)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("数据目录默认值错误: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "ausente.json")); err == nil {
		t.Fatal("缺失文件应当返回错误")
	}
}
