package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callsense/internal/config"

	"github.com/spf13/cobra"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Paths.StateDir = dir
	cfg.Paths.LogPath = filepath.Join(dir, "callsense.log")
	cfg.Paths.SocketPath = filepath.Join(dir, "callsense.sock")
	cfg.Paths.PidPath = filepath.Join(dir, "callsense.pid")
	cfg.Store.DBPath = filepath.Join(dir, "callsense.db")
	path := filepath.Join(dir, "config.toml")
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestJobsLifecycle(t *testing.T) {
	cfgPath := testConfig(t)
	txt := filepath.Join(t.TempDir(), "call.txt")
	if err := os.WriteFile(txt, []byte("  客戶詢問水餃價格\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, NewJobsCmd(&cfgPath), "add", txt)
	if err != nil {
		t.Fatalf("add: %v %s", err, out)
	}
	id := strings.Fields(out)[0]

	out, err = run(t, NewJobsCmd(&cfgPath), "list", "--status", "pending")
	if err != nil || !strings.Contains(out, id) || !strings.Contains(out, "PENDING") {
		t.Fatalf("list: %v %q", err, out)
	}
	if _, err := run(t, NewJobsCmd(&cfgPath), "list", "--status", "bogus"); err == nil {
		t.Fatalf("expected error for bad status")
	}

	out, err = run(t, NewJobsCmd(&cfgPath), "show", id)
	if err != nil || !strings.Contains(out, "call.txt") {
		t.Fatalf("show: %v %q", err, out)
	}

	// pending jobs cannot be reset
	if _, err := run(t, NewJobsCmd(&cfgPath), "reset", id); err == nil {
		t.Fatalf("expected reset of pending job to fail")
	}

	xlsx := filepath.Join(t.TempDir(), "out.xlsx")
	out, err = run(t, NewJobsCmd(&cfgPath), "export", xlsx)
	if err != nil || !strings.Contains(out, "exported 0") {
		t.Fatalf("export: %v %q", err, out)
	}
	if _, err := os.Stat(xlsx); err != nil {
		t.Fatalf("export file: %v", err)
	}
}

func TestNewJob(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	_ = os.WriteFile(empty, []byte(" \n"), 0o644)
	if _, err := newJob(empty); err == nil {
		t.Fatalf("expected empty transcript error")
	}
	wav := filepath.Join(dir, "a.WAV")
	_ = os.WriteFile(wav, []byte("RIFF"), 0o644)
	job, err := newJob(wav)
	if err != nil {
		t.Fatal(err)
	}
	if job.Format != "wav" || job.Transcript != "" || !filepath.IsAbs(job.FilePath) {
		t.Fatalf("job %+v", job)
	}
	if _, err := newJob(filepath.Join(dir, "missing.mp3")); err == nil {
		t.Fatalf("expected missing file error")
	}
	pdf := filepath.Join(dir, "notes.pdf")
	_ = os.WriteFile(pdf, []byte("%PDF"), 0o644)
	if _, err := newJob(pdf); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	mp3 := filepath.Join(dir, "call.mp3")
	_ = os.WriteFile(mp3, []byte("ID3"), 0o644)
	if job, err := newJob(mp3); err != nil || job.Format != "mp3" {
		t.Fatalf("mp3 job %+v %v", job, err)
	}
}

func TestLabelsCommands(t *testing.T) {
	cfgPath := testConfig(t)
	out, err := run(t, NewLabelsCmd(&cfgPath), "add", "product", "水餃", "鍋貼")
	if err != nil || strings.Count(out, "added") != 2 {
		t.Fatalf("add: %v %q", err, out)
	}
	out, _ = run(t, NewLabelsCmd(&cfgPath), "add", "products", "水餃")
	if !strings.Contains(out, "exists") {
		t.Fatalf("re-add: %q", out)
	}
	if _, err := run(t, NewLabelsCmd(&cfgPath), "disable", "product", "鍋貼"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	out, _ = run(t, NewLabelsCmd(&cfgPath), "list", "product")
	if strings.Contains(out, "鍋貼") {
		t.Fatalf("disabled label listed: %q", out)
	}
	out, _ = run(t, NewLabelsCmd(&cfgPath), "list", "product", "--all")
	if !strings.Contains(out, "鍋貼 (disabled)") {
		t.Fatalf("list --all: %q", out)
	}
	if _, err := run(t, NewLabelsCmd(&cfgPath), "add", "color", "red"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	_ = os.WriteFile(path, []byte("a\nb\n\nc\nd\n"), 0o644)
	var buf bytes.Buffer
	if err := tailFile(&buf, path, 2); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "c\nd\n" {
		t.Fatalf("tail %q", buf.String())
	}
}

func TestCallOverSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "cs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadBytes('\n')
		var req Request
		_ = json.Unmarshal(line, &req)
		_ = json.NewEncoder(conn).Encode(Status{
			Running:  req.Op == "status",
			InFlight: "job-1",
			Since:    time.Now(),
			Counters: map[string]int64{"requests": 3},
			Recent:   []Completion{{JobID: "job-0", Result: "Busy", Timestamp: time.Now()}},
		})
	}()

	var st Status
	if err := call(sock, Request{Op: "status"}, &st, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if !st.Running || st.Counters["requests"] != 3 {
		t.Fatalf("status %+v", st)
	}
	var buf bytes.Buffer
	printStatus(&buf, st)
	for _, want := range []string{"in flight: job-1", "requests", "job-0", "Busy"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("status output missing %q:\n%s", want, buf.String())
		}
	}

	if err := call(filepath.Join(dir, "nope.sock"), Request{Op: "status"}, &st, time.Second); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "models", "m.bin")
	if err := download(context.Background(), srv.URL+"/m.bin", dest); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(dest)
	if string(b) != "model-bytes" {
		t.Fatalf("content %q", b)
	}
	other := filepath.Join(t.TempDir(), "x.bin")
	if err := download(context.Background(), srv.URL+"/missing", other); err == nil {
		t.Fatalf("expected error on 404")
	}
	if _, err := os.Stat(other + ".part"); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind")
	}
}

func TestKnownModel(t *testing.T) {
	if !knownModel("ggml-medium-q5_1.bin") || knownModel("ggml-tiny.en.bin") {
		t.Fatalf("registry lookup wrong")
	}
}
