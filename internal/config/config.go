package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultStateDirLinux = ".local/state/callsense"
	defaultConfigDir     = ".config/callsense"
	defaultModelName     = "ggml-medium-q5_1.bin"

	BackendWhisper = "whisper"
	BackendCommand = "command"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	ASR struct {
		Backend        string  `toml:"backend"` // whisper, command
		ModelPath      string  `toml:"model_path"`
		Command        string  `toml:"command"` // {input} is replaced by the chunk wav path
		Language       string  `toml:"language"`
		Region         string  `toml:"region"`
		ChunkSeconds   float64 `toml:"chunk_seconds"`
		OverlapSeconds float64 `toml:"overlap_seconds"`
		Threads        int     `toml:"threads"`
		TimeoutSec     float64 `toml:"timeout_sec"`
	} `toml:"asr"`

	LLM struct {
		URL               string  `toml:"url"`
		Model             string  `toml:"model"`
		Stream            bool    `toml:"stream"`
		Temperature       float64 `toml:"temperature"`
		TopP              float64 `toml:"top_p"`
		NumCtx            int     `toml:"num_ctx"`
		NumPredict        int     `toml:"num_predict"`
		ConnectTimeoutSec float64 `toml:"connect_timeout_sec"`
		BaseTimeoutSec    float64 `toml:"base_timeout_sec"`
		MaxTimeoutSec     float64 `toml:"max_timeout_sec"`
		RetryAttempts     int     `toml:"retry_attempts"`
		RetryWaitSec      float64 `toml:"retry_wait_sec"`
		RetryPromptChars  int     `toml:"retry_prompt_chars"`
		Script            string  `toml:"script"` // opencc profile, empty disables
	} `toml:"llm"`

	Gate struct {
		MaxMemoryPercent float64 `toml:"max_memory_percent"`
		MaxCPUPercent    float64 `toml:"max_cpu_percent"`
		MinDiskFreeBytes uint64  `toml:"min_disk_free_bytes"`
		CPUSampleMS      int     `toml:"cpu_sample_ms"`
		DiskPath         string  `toml:"disk_path"`
		CacheSeconds     float64 `toml:"cache_seconds"`
	} `toml:"gate"`

	Store struct {
		DBPath string `toml:"db_path"`
	} `toml:"store"`

	Server struct {
		Addr    string `toml:"addr"`
		Metrics bool   `toml:"metrics"`
	} `toml:"server"`

	Notify struct {
		Command    string            `toml:"command"`
		Args       []string          `toml:"args"`
		TimeoutSec float64           `toml:"timeout_sec"`
		Env        map[string]string `toml:"env"`
		RedactPII  bool              `toml:"redact_pii"`
	} `toml:"notify"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir   string `toml:"state_dir"`
		LogPath    string `toml:"log_path"`
		SocketPath string `toml:"socket_path"`
		PidPath    string `toml:"pid_path"`
		ConfigPath string `toml:"-"`
	} `toml:"paths"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "callsense")
	}

	cfg := &Config{}

	cfg.ASR.Backend = BackendWhisper
	cfg.ASR.ModelPath = filepath.Join(stateDir, "models", defaultModelName)
	cfg.ASR.Language = "zh"
	cfg.ASR.Region = "TW"
	cfg.ASR.ChunkSeconds = 30.0
	cfg.ASR.OverlapSeconds = 0.1
	cfg.ASR.Threads = 0
	cfg.ASR.TimeoutSec = 300

	cfg.LLM.URL = "http://127.0.0.1:11434/api/generate"
	cfg.LLM.Model = "qwen3:8b"
	cfg.LLM.Stream = true
	cfg.LLM.Temperature = 0
	cfg.LLM.TopP = 0.5
	cfg.LLM.NumCtx = 8192
	cfg.LLM.NumPredict = 1000
	cfg.LLM.ConnectTimeoutSec = 30
	cfg.LLM.BaseTimeoutSec = 180
	cfg.LLM.MaxTimeoutSec = 600
	cfg.LLM.RetryAttempts = 2
	cfg.LLM.RetryWaitSec = 10
	cfg.LLM.RetryPromptChars = 3000
	cfg.LLM.Script = "s2t"

	cfg.Gate.MaxMemoryPercent = 85
	cfg.Gate.MaxCPUPercent = 90
	cfg.Gate.MinDiskFreeBytes = 1 << 30
	cfg.Gate.CPUSampleMS = 1000
	cfg.Gate.DiskPath = "/"
	cfg.Gate.CacheSeconds = 0

	cfg.Store.DBPath = filepath.Join(stateDir, "callsense.db")

	cfg.Server.Addr = "127.0.0.1:8088"
	cfg.Server.Metrics = true

	cfg.Notify.Args = []string{}
	cfg.Notify.TimeoutSec = 5
	cfg.Notify.Env = map[string]string{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "callsense.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "callsense.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "callsense.pid")

	return cfg, nil
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultConfigDir, "config.toml")
}

// LoadDotEnv loads .env from the working directory if present.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Store.DBPath)} {
		if p == "" || p == "." {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALLSENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CALLSENSE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CALLSENSE_LLM_URL"); v != "" {
		cfg.LLM.URL = v
	}
	if v := os.Getenv("CALLSENSE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CALLSENSE_LLM_STREAM"); v != "" {
		cfg.LLM.Stream = truthy(v)
	}
	if v := os.Getenv("CALLSENSE_ASR_BACKEND"); v != "" {
		cfg.ASR.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CALLSENSE_ASR_MODEL"); v != "" {
		cfg.ASR.ModelPath = v
	}
	if v := os.Getenv("CALLSENSE_ASR_COMMAND"); v != "" {
		cfg.ASR.Command = v
	}
	if v := os.Getenv("CALLSENSE_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("CALLSENSE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CALLSENSE_GATE_CACHE"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			cfg.Gate.CacheSeconds = secs
		}
	}
}

func truthy(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}
