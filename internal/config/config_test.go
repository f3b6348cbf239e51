package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = "/tmp/config" // avoid creation

	t.Setenv("CALLSENSE_LOG_LEVEL", "debug")
	t.Setenv("CALLSENSE_LOG_FORMAT", "json")
	t.Setenv("CALLSENSE_LLM_URL", "http://10.0.0.2:11434/api/generate")
	t.Setenv("CALLSENSE_LLM_STREAM", "false")
	t.Setenv("CALLSENSE_ASR_BACKEND", "COMMAND")
	t.Setenv("CALLSENSE_GATE_CACHE", "2.5")

	applyEnvOverrides(cfg)

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging overrides failed: %+v", cfg.Logging)
	}
	if cfg.LLM.URL != "http://10.0.0.2:11434/api/generate" || cfg.LLM.Stream {
		t.Fatalf("llm overrides failed: %+v", cfg.LLM)
	}
	if cfg.ASR.Backend != BackendCommand {
		t.Fatalf("backend override failed: %q", cfg.ASR.Backend)
	}
	if cfg.Gate.CacheSeconds != 2.5 {
		t.Fatalf("gate cache override failed: %v", cfg.Gate.CacheSeconds)
	}
}

func TestInvalidGateCacheIgnored(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	t.Setenv("CALLSENSE_GATE_CACHE", "-1")
	applyEnvOverrides(cfg)
	if cfg.Gate.CacheSeconds != 0 {
		t.Fatalf("negative cache should be ignored, got %v", cfg.Gate.CacheSeconds)
	}
}

func TestDefaultsMatchPipeline(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if cfg.ASR.ChunkSeconds != 30 || cfg.ASR.OverlapSeconds != 0.1 {
		t.Fatalf("unexpected asr defaults: %+v", cfg.ASR)
	}
	if cfg.Gate.MaxMemoryPercent != 85 || cfg.Gate.MaxCPUPercent != 90 || cfg.Gate.MinDiskFreeBytes != 1<<30 {
		t.Fatalf("unexpected gate defaults: %+v", cfg.Gate)
	}
	if cfg.LLM.RetryAttempts != 2 || cfg.LLM.RetryWaitSec != 10 || cfg.LLM.RetryPromptChars != 3000 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.LLM)
	}
}

func TestLoadWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.ConfigPath != path {
		t.Fatalf("config path not recorded: %q", cfg.Paths.ConfigPath)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"

	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = path
	cfg.Notify.Command = "/bin/echo"
	cfg.LLM.Model = "qwen2.5:7b"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Notify.Command != "/bin/echo" {
		t.Fatalf("expected notify command to persist")
	}
	if loaded.LLM.Model != "qwen2.5:7b" {
		t.Fatalf("expected llm model to persist, got %q", loaded.LLM.Model)
	}
}
