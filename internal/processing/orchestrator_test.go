package processing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"callsense/internal/analyzer"
	"callsense/internal/asr"
	"callsense/internal/gate"
	"callsense/internal/logging"
	"callsense/internal/model"
	"callsense/internal/store"
)

type memStore struct {
	mu          sync.Mutex
	jobs        map[string]model.Job
	analyses    map[string]model.Analysis
	history     map[string][]model.Status
	upsertErr   error
	transcripts map[string]string
}

func newMemStore(jobs ...model.Job) *memStore {
	s := &memStore{
		jobs:        map[string]model.Job{},
		analyses:    map[string]model.Analysis{},
		history:     map[string][]model.Status{},
		transcripts: map[string]string{},
	}
	for _, j := range jobs {
		if j.Status == "" {
			j.Status = model.StatusPending
		}
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) GetJob(_ context.Context, id string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, store.ErrNotFound
	}
	return j, nil
}

func (s *memStore) HasAnalysis(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.analyses[id]
	return ok, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, st model.Status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status, j.Error = st, detail
	s.jobs[id] = j
	s.history[id] = append(s.history[id], st)
	return nil
}

func (s *memStore) SaveTranscript(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[id] = text
	return nil
}

func (s *memStore) UpsertAnalysis(_ context.Context, a model.Analysis) (model.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return model.Analysis{}, s.upsertErr
	}
	a.ID = "an-" + a.JobID
	s.analyses[a.JobID] = a
	return a, nil
}

func (s *memStore) status(id string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

type fixedGate struct {
	snap gate.Snapshot
	err  error
}

func (g fixedGate) Check(context.Context) (gate.Snapshot, error) { return g.snap, g.err }

var healthyGate = fixedGate{snap: gate.Snapshot{MemoryPercent: 30, CPUPercent: 10, DiskFreeBytes: 10 << 30, Healthy: true}}

type fakeEngine struct {
	result asr.Result
	calls  int
	// block, when set, parks Transcribe until closed
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeEngine) Transcribe(context.Context, string) asr.Result {
	f.calls++
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	return f.result
}

type fakeAnalyzer struct {
	result analyzer.Result
	got    string
	cats   string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, transcript, _, categories string) analyzer.Result {
	f.got = transcript
	f.cats = categories
	return f.result
}

type staticLabels struct{}

func (staticLabels) ProductLabels(context.Context) (string, error)  { return "水餃\n包子", nil }
func (staticLabels) CategoryLabels(context.Context) (string, error) { return "訂購諮詢", nil }

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, model.Job, model.Analysis) error {
	r.calls++
	return r.err
}

func goodAnalysis() analyzer.Result {
	return analyzer.Success(analyzer.Analysis{
		ProductNames: analyzer.Values{"水餃、包子，無"},
		Sentiment:    "正面",
		Category:     analyzer.Values{"訂購諮詢", "一般諮詢"},
		Summary:      "客戶詢問訂購",
	}, analyzer.SourceStream)
}

func newTestOrchestrator(st *memStore, g Gate, eng *fakeEngine, an *fakeAnalyzer, n Notifier) *Orchestrator {
	o := New(Deps{Gate: g, Store: st, Labels: staticLabels{}, Engine: eng, Analyzer: an, Notifier: n, Logger: logging.NewTestLogger()})
	o.rss = nil
	return o
}

func TestProcessSuccess(t *testing.T) {
	st := newMemStore(model.Job{ID: "j1", FilePath: "call.wav", Format: "wav"})
	eng := &fakeEngine{result: asr.Result{Text: "我想訂水餃", Segments: []model.Segment{{Text: "我想訂水餃"}}}}
	an := &fakeAnalyzer{result: goodAnalysis()}
	n := &recordingNotifier{err: errors.New("hook missing")}
	o := newTestOrchestrator(st, healthyGate, eng, an, n)

	out, err := o.Process(context.Background(), "j1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.AnalysisID != "an-j1" || out.Source != string(analyzer.SourceStream) {
		t.Fatalf("outcome %+v", out)
	}
	if got := st.history["j1"]; len(got) != 2 || got[0] != model.StatusAnalyzing || got[1] != model.StatusCompleted {
		t.Fatalf("history %v", got)
	}
	a := st.analyses["j1"]
	if strings.Join(a.ProductNames, "|") != "水餃|包子" || a.Sentiment != model.SentimentPositive || a.Category != "訂購諮詢, 一般諮詢" {
		t.Fatalf("normalized %+v", a)
	}
	if st.transcripts["j1"] != "我想訂水餃" || an.got != "我想訂水餃" || an.cats != "訂購諮詢" {
		t.Fatalf("transcript not threaded through")
	}
	if n.calls != 1 {
		t.Fatalf("notifier calls=%d", n.calls)
	}
	if _, _, held := o.InFlight(); held {
		t.Fatalf("lock still held")
	}
}

func TestProcessBusyLeavesStatus(t *testing.T) {
	st := newMemStore(model.Job{ID: "a", Format: "wav"}, model.Job{ID: "b", Format: "wav"})
	eng := &fakeEngine{
		result:  asr.Result{Text: "hello"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o := newTestOrchestrator(st, healthyGate, eng, &fakeAnalyzer{result: goodAnalysis()}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Process(context.Background(), "a")
		done <- err
	}()
	<-eng.started

	_, err := o.Process(context.Background(), "b")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected Busy, got %v", err)
	}
	if st.status("b") != model.StatusPending {
		t.Fatalf("busy job mutated: %s", st.status("b"))
	}
	if holder, _, _ := o.InFlight(); holder != "a" {
		t.Fatalf("holder=%q", holder)
	}
	close(eng.block)
	if err := <-done; err != nil {
		t.Fatalf("first job: %v", err)
	}
	if _, err := o.Process(context.Background(), "b"); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestProcessResourceExhausted(t *testing.T) {
	st := newMemStore(model.Job{ID: "j", Format: "wav"})
	snap := gate.Snapshot{MemoryPercent: 90, CPUPercent: 10, DiskFreeBytes: 10 << 30, Violations: []string{"memory 90.0% >= 85.0%"}}
	g := fixedGate{snap: snap, err: &gate.UnhealthyError{Snapshot: snap}}
	eng := &fakeEngine{}
	o := newTestOrchestrator(st, g, eng, &fakeAnalyzer{}, nil)

	_, err := o.Process(context.Background(), "j")
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "memory 90.0%") {
		t.Fatalf("metrics missing: %v", err)
	}
	var ue *gate.UnhealthyError
	if !errors.As(err, &ue) {
		t.Fatalf("gate error not wrapped")
	}
	if st.status("j") != model.StatusPending || len(st.history["j"]) != 0 || eng.calls != 0 {
		t.Fatalf("state mutated on rejection")
	}
	if _, _, held := o.InFlight(); held {
		t.Fatalf("lock leaked")
	}
}

func TestProcessNotFound(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), healthyGate, &fakeEngine{}, &fakeAnalyzer{}, nil)
	_, err := o.Process(context.Background(), "ghost")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestProcessAlreadyExists(t *testing.T) {
	st := newMemStore(model.Job{ID: "j", Format: "wav", Status: model.StatusCompleted})
	st.analyses["j"] = model.Analysis{ID: "old", JobID: "j"}
	eng := &fakeEngine{}
	o := newTestOrchestrator(st, healthyGate, eng, &fakeAnalyzer{}, nil)

	_, err := o.Process(context.Background(), "j")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
	if st.status("j") != model.StatusCompleted || len(st.history["j"]) != 0 || eng.calls != 0 {
		t.Fatalf("state mutated")
	}
}

func TestProcessReanalyzesResetJob(t *testing.T) {
	st := newMemStore(model.Job{ID: "j", Format: "wav"})
	st.analyses["j"] = model.Analysis{ID: "old", JobID: "j", Summary: "stale"}
	o := newTestOrchestrator(st, healthyGate, &fakeEngine{result: asr.Result{Text: "again"}}, &fakeAnalyzer{result: goodAnalysis()}, nil)

	if _, err := o.Process(context.Background(), "j"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if st.analyses["j"].Summary != "客戶詢問訂購" {
		t.Fatalf("analysis not overwritten")
	}
}

func TestProcessFailureKinds(t *testing.T) {
	cases := []struct {
		name     string
		engine   asr.Result
		analysis analyzer.Result
		upsert   error
		kind     Kind
	}{
		{"engine error", asr.Result{Error: "load audio: not a WAV file"}, goodAnalysis(), nil, KindTranscriptionFailure},
		{"empty transcript", asr.Result{Text: "   "}, goodAnalysis(), nil, KindTranscriptionFailure},
		{"analysis error", asr.Result{Text: "hi"}, analyzer.Failure("context canceled"), nil, KindAnalysisFailure},
		{"persist error", asr.Result{Text: "hi"}, goodAnalysis(), errors.New("disk I/O error"), KindPersistenceFailure},
	}
	for _, c := range cases {
		st := newMemStore(model.Job{ID: "j", Format: "wav"})
		st.upsertErr = c.upsert
		o := newTestOrchestrator(st, healthyGate, &fakeEngine{result: c.engine}, &fakeAnalyzer{result: c.analysis}, nil)

		_, err := o.Process(context.Background(), "j")
		if KindOf(err) != c.kind {
			t.Fatalf("%s: kind=%q err=%v", c.name, KindOf(err), err)
		}
		if !c.kind.FailsJob() {
			t.Fatalf("%s: kind should fail the job", c.name)
		}
		job, _ := st.GetJob(context.Background(), "j")
		if job.Status != model.StatusFailed || job.Error == "" {
			t.Fatalf("%s: job %+v", c.name, job)
		}
		if h := st.history["j"]; h[0] != model.StatusAnalyzing || h[len(h)-1] != model.StatusFailed {
			t.Fatalf("%s: history %v", c.name, h)
		}
		if _, _, held := o.InFlight(); held {
			t.Fatalf("%s: lock leaked", c.name)
		}
	}
}

func TestProcessTextJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.txt")
	if err := os.WriteFile(path, []byte("  客戶要退貨  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := newMemStore(
		model.Job{ID: "inline", Format: "txt", Transcript: "直接文字"},
		model.Job{ID: "file", Format: "txt", FilePath: path},
		model.Job{ID: "empty", Format: "txt"},
	)
	eng := &fakeEngine{}
	an := &fakeAnalyzer{result: goodAnalysis()}
	o := newTestOrchestrator(st, healthyGate, eng, an, nil)

	if _, err := o.Process(context.Background(), "inline"); err != nil || an.got != "直接文字" {
		t.Fatalf("inline: %v %q", err, an.got)
	}
	if _, err := o.Process(context.Background(), "file"); err != nil || an.got != "客戶要退貨" {
		t.Fatalf("file: %v %q", err, an.got)
	}
	if _, err := o.Process(context.Background(), "empty"); KindOf(err) != KindTranscriptionFailure {
		t.Fatalf("empty: %v", err)
	}
	if eng.calls != 0 {
		t.Fatalf("engine used for text jobs")
	}
}

func TestConcurrentProcessExactlyOneAdmitted(t *testing.T) {
	st := newMemStore(model.Job{ID: "a", Format: "wav"}, model.Job{ID: "b", Format: "wav"})
	release := make(chan struct{})
	eng := &fakeEngine{result: asr.Result{Text: "x"}, block: release}
	o := newTestOrchestrator(st, healthyGate, eng, &fakeAnalyzer{result: goodAnalysis()}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := o.Process(context.Background(), id)
			errs <- err
		}(id)
	}
	// wait until one of them holds the lock and the other has been rejected
	busy := <-errs
	close(release)
	wg.Wait()
	other := <-errs

	if !errors.Is(busy, ErrBusy) || other != nil {
		t.Fatalf("busy=%v other=%v", busy, other)
	}
	completed := 0
	for _, id := range []string{"a", "b"} {
		switch st.status(id) {
		case model.StatusCompleted:
			completed++
		case model.StatusPending:
		default:
			t.Fatalf("job %s in %s", id, st.status(id))
		}
	}
	if completed != 1 {
		t.Fatalf("completed=%d", completed)
	}
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, string, string, string) analyzer.Result {
	var m map[string]int
	m["boom"]++
	return analyzer.Result{}
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(context.Context, model.Job, model.Analysis) error {
	panic("notifier exploded")
}

type panickingGate struct{}

func (panickingGate) Check(context.Context) (gate.Snapshot, error) { panic("sampler exploded") }

func TestProcessRecoversStagePanic(t *testing.T) {
	st := newMemStore(model.Job{ID: "j1", FilePath: "call.txt", Format: "txt", Transcript: "我想訂水餃"})
	o := New(Deps{Gate: healthyGate, Store: st, Engine: &fakeEngine{}, Analyzer: panickingAnalyzer{}, Logger: logging.NewTestLogger()})
	o.rss = nil

	_, err := o.Process(context.Background(), "j1")
	if !errors.Is(err, ErrAnalysisFailure) || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected analysis failure from panic, got %v", err)
	}
	if got := st.history["j1"]; len(got) != 2 || got[1] != model.StatusFailed {
		t.Fatalf("history %v", got)
	}
	if _, _, held := o.InFlight(); held {
		t.Fatalf("lock still held")
	}
}

func TestProcessPanicBeforeAdmissionLeavesStatus(t *testing.T) {
	st := newMemStore(model.Job{ID: "j1", Format: "wav"})
	o := newTestOrchestrator(st, panickingGate{}, &fakeEngine{}, &fakeAnalyzer{}, nil)

	_, err := o.Process(context.Background(), "j1")
	if KindOf(err) != KindResourceExhausted {
		t.Fatalf("kind %q (%v)", KindOf(err), err)
	}
	if len(st.history["j1"]) != 0 {
		t.Fatalf("status touched: %v", st.history["j1"])
	}
}

func TestProcessNotifierPanicKeepsSuccess(t *testing.T) {
	st := newMemStore(model.Job{ID: "j1", FilePath: "call.wav", Format: "wav"})
	eng := &fakeEngine{result: asr.Result{Text: "我想訂水餃"}}
	o := newTestOrchestrator(st, healthyGate, eng, &fakeAnalyzer{result: goodAnalysis()}, panickingNotifier{})

	if _, err := o.Process(context.Background(), "j1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if st.status("j1") != model.StatusCompleted {
		t.Fatalf("status %s", st.status("j1"))
	}
}
