// Package doctor checks that the worker's dependencies are in place.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"callsense/internal/audio"
	"callsense/internal/config"
	"callsense/internal/gate"
	"callsense/internal/store"

	"github.com/google/shlex"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(ctx context.Context, cfg *config.Config) []Result {
	results := []Result{checkFile("config path", cfg.Paths.ConfigPath)}
	switch cfg.ASR.Backend {
	case config.BackendCommand:
		results = append(results, checkCommand("asr.command", cfg.ASR.Command, true))
	default:
		results = append(results, checkWhisperBuild(), checkFile("model file", cfg.ASR.ModelPath))
	}
	results = append(results,
		checkCommand("ffmpeg", audio.FFmpeg, true),
		checkCommand("notify.command", cfg.Notify.Command, false),
		checkDatabase(ctx, cfg.Store.DBPath),
		checkLLM(ctx, cfg.LLM.URL),
		checkResources(ctx, cfg),
	)
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

// checkCommand resolves the executable of a shell-style command line.
// Optional commands pass when unset.
func checkCommand(label, line string, required bool) Result {
	argv, err := shlex.Split(line)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	if len(argv) == 0 {
		if required {
			return Result{Name: label, Pass: false, Detail: "not set"}
		}
		return Result{Name: label, Pass: true, Detail: "not set (disabled)"}
	}
	path := os.ExpandEnv(argv[0])
	if strings.Contains(path, "/") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; point it at an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkDatabase(ctx context.Context, path string) Result {
	st, err := store.Open(path)
	if err != nil {
		return Result{Name: "database", Pass: false, Detail: err.Error()}
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return Result{Name: "database", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "database", Pass: true, Detail: path}
}

// checkLLM only checks that the endpoint's host answers HTTP.
func checkLLM(ctx context.Context, endpoint string) Result {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return Result{Name: "llm", Pass: false, Detail: fmt.Sprintf("bad url %q", endpoint)}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Scheme+"://"+u.Host+"/", nil)
	if err != nil {
		return Result{Name: "llm", Pass: false, Detail: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: "llm", Pass: false, Detail: err.Error() + " (analysis will use the keyword fallback)"}
	}
	_ = resp.Body.Close()
	return Result{Name: "llm", Pass: true, Detail: fmt.Sprintf("%s (%s)", u.Host, resp.Status)}
}

func checkResources(ctx context.Context, cfg *config.Config) Result {
	snap, err := gate.New(cfg, nil).Sample(ctx)
	if err != nil {
		return Result{Name: "resources", Pass: false, Detail: err.Error()}
	}
	detail := fmt.Sprintf("mem %.1f%% cpu %.1f%% disk free %.1f GiB", snap.MemoryPercent, snap.CPUPercent, float64(snap.DiskFreeBytes)/(1<<30))
	if !snap.Healthy {
		detail += ": " + strings.Join(snap.Violations, "; ")
	}
	return Result{Name: "resources", Pass: snap.Healthy, Detail: detail}
}
