package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callsense/internal/config"
)

func TestWaitForShutdownSucceedsWhenPidFileRemoved(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.ConfigPath = dir + "/config.toml"
	cfg.Paths.PidPath = dir + "/callsense.pid"
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save cfg: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte("12345"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.Remove(cfg.Paths.PidPath)
	}()
	if err := waitForShutdown(cfg.Paths.ConfigPath, 2*time.Second); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestWaitForShutdownTimesOutOnAlivePid(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.ConfigPath = dir + "/config.toml"
	cfg.Paths.PidPath = dir + "/callsense.pid"
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save cfg: %v", err)
	}
	selfPid := os.Getpid()
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", selfPid)), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if err := waitForShutdown(cfg.Paths.ConfigPath, 300*time.Millisecond); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestChildEnvFromFlags(t *testing.T) {
	cmd := NewStartCmd(new(string))
	if err := cmd.Flags().Set("addr", "0.0.0.0:9000"); err != nil {
		t.Fatal(err)
	}
	env := childEnv(cmd)
	if len(env) != 1 || env[0] != "CALLSENSE_SERVER_ADDR=0.0.0.0:9000" {
		t.Fatalf("env=%v", env)
	}
}

func TestEnsureNotRunning(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Paths.PidPath = filepath.Join(t.TempDir(), "callsense.pid")
	if err := ensureNotRunning(cfg); err != nil {
		t.Fatalf("no pid file: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureNotRunning(cfg); err == nil {
		t.Fatalf("expected already running")
	}
}
