package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callsense/internal/config"
	"callsense/internal/control"
	"callsense/internal/gate"
	"callsense/internal/logging"
	"callsense/internal/model"
	"callsense/internal/processing"
	"callsense/internal/store"
)

type fakeProcessor struct {
	errs map[string]error
}

func (f *fakeProcessor) Process(_ context.Context, id string) (processing.Outcome, error) {
	if err, ok := f.errs[id]; ok {
		return processing.Outcome{}, err
	}
	return processing.Outcome{JobID: id, AnalysisID: "an-" + id, Source: "llm-stream"}, nil
}

func (f *fakeProcessor) InFlight() (string, time.Time, bool) { return "", time.Time{}, false }

type fakeJobs struct{}

func (fakeJobs) GetJob(_ context.Context, id string) (model.Job, error) {
	if id != "j1" {
		return model.Job{}, store.ErrNotFound
	}
	return model.Job{ID: "j1", FilePath: "a.wav", Format: "wav", Status: model.StatusCompleted}, nil
}

func (fakeJobs) GetAnalysis(_ context.Context, id string) (model.Analysis, error) {
	return model.Analysis{ID: "an-j1", JobID: id, Sentiment: model.SentimentPositive, ProductNames: []string{"水餃"}}, nil
}

func (fakeJobs) ListJobs(context.Context, model.Status, int) ([]model.Job, error) {
	return []model.Job{{ID: "j1", Status: model.StatusPending}}, nil
}

type fakeSampler struct{}

func (fakeSampler) Sample(context.Context) (gate.Snapshot, error) {
	return gate.Snapshot{MemoryPercent: 20, Healthy: true}, nil
}

func perr(kind processing.Kind, id string) error {
	return &processing.Error{Kind: kind, JobID: id, Msg: "test"}
}

func newTestServer() *Server {
	cfg, _ := config.Default()
	proc := &fakeProcessor{errs: map[string]error{
		"busy":   perr(processing.KindBusy, "busy"),
		"hot":    perr(processing.KindResourceExhausted, "hot"),
		"ghost":  perr(processing.KindNotFound, "ghost"),
		"done":   perr(processing.KindAlreadyExists, "done"),
		"broken": perr(processing.KindAnalysisFailure, "broken"),
	}}
	return newServer(cfg, logging.NewTestLogger(), proc, fakeJobs{}, fakeSampler{})
}

func TestProcessEndpointStatusCodes(t *testing.T) {
	s := newTestServer()
	app := s.api.App(true)
	cases := map[string]int{"ok": 200, "busy": 429, "hot": 503, "ghost": 404, "done": 409, "broken": 500}
	for id, want := range cases {
		resp, err := app.Test(httptest.NewRequest("POST", "/api/jobs/"+id+"/process", nil))
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: status %d want %d", id, resp.StatusCode, want)
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if want == 200 {
			if body["success"] != true || body["analysis_id"] != "an-ok" {
				t.Fatalf("ok body %v", body)
			}
		} else if body["error"] == nil || body["error"] == "" {
			t.Fatalf("%s: missing error in %v", id, body)
		}
	}

	resp, _ := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)
	if !strings.Contains(text, "callsense_process_requests_total 6") ||
		!strings.Contains(text, `callsense_process_errors_total{kind="Busy"} 1`) {
		t.Fatalf("metrics:\n%s", text)
	}
	if got := len(s.copyRecent()); got != 6 {
		t.Fatalf("recent=%d", got)
	}
}

func TestJobRoutes(t *testing.T) {
	app := newTestServer().api.App(false)

	resp, _ := app.Test(httptest.NewRequest("GET", "/api/jobs/j1", nil))
	var job map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&job)
	if resp.StatusCode != 200 || job["analysis"] == nil {
		t.Fatalf("job view %d %v", resp.StatusCode, job)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/jobs/nope", nil))
	if resp.StatusCode != 404 {
		t.Fatalf("missing job status %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/jobs?status=BOGUS", nil))
	if resp.StatusCode != 400 {
		t.Fatalf("bad status filter %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if resp.StatusCode != 404 {
		t.Fatalf("metrics should be disabled, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/health", nil))
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	if health["status"] != "healthy" || health["resources"] == nil {
		t.Fatalf("health %v", health)
	}
}

func roundTrip(t *testing.T, s *Server, req control.Request, out any) {
	t.Helper()
	client, srv := net.Pipe()
	go s.handleConn(context.Background(), srv)
	defer client.Close()
	b, _ := json.Marshal(req)
	if _, err := client.Write(append(b, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(client).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(line, out); err != nil {
		t.Fatalf("decode %s: %v", line, err)
	}
}

func TestControlSocketOps(t *testing.T) {
	s := newTestServer()

	var health control.SimpleResponse
	roundTrip(t, s, control.Request{Op: "health"}, &health)
	if !health.OK {
		t.Fatalf("health %+v", health)
	}

	var proc control.ProcessResponse
	roundTrip(t, s, control.Request{Op: "process", JobID: "busy"}, &proc)
	if proc.Success || proc.Kind != "Busy" {
		t.Fatalf("process %+v", proc)
	}
	roundTrip(t, s, control.Request{Op: "process", JobID: "fine"}, &proc)
	if !proc.Success || proc.AnalysisID != "an-fine" {
		t.Fatalf("process %+v", proc)
	}

	var st control.Status
	roundTrip(t, s, control.Request{Op: "status"}, &st)
	if !st.Running || st.Counters["requests"] != 2 || len(st.Recent) != 2 || st.Recent[0].Result != "Busy" {
		t.Fatalf("status %+v", st)
	}
}
