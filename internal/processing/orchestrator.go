// Package processing drives one job at a time through admission,
// transcription, analysis and persistence.
package processing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"callsense/internal/analyzer"
	"callsense/internal/asr"
	"callsense/internal/gate"
	"callsense/internal/model"
	"callsense/internal/store"

	"github.com/sirupsen/logrus"
)

// Store is the persistence collaborator.
type Store interface {
	GetJob(ctx context.Context, id string) (model.Job, error)
	HasAnalysis(ctx context.Context, jobID string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, detail string) error
	SaveTranscript(ctx context.Context, id, transcript string) error
	UpsertAnalysis(ctx context.Context, a model.Analysis) (model.Analysis, error)
}

// Labels supplies newline-joined candidate names for the prompt.
type Labels interface {
	ProductLabels(ctx context.Context) (string, error)
	CategoryLabels(ctx context.Context) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) asr.Result
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript, products, categories string) analyzer.Result
}

type Gate interface {
	Check(ctx context.Context) (gate.Snapshot, error)
}

// Notifier is told about completed jobs. Its errors are logged only.
type Notifier interface {
	Notify(ctx context.Context, job model.Job, a model.Analysis) error
}

// Outcome is a successful Process result.
type Outcome struct {
	JobID      string        `json:"job_id"`
	AnalysisID string        `json:"analysis_id"`
	Source     string        `json:"source"`
	Elapsed    time.Duration `json:"elapsed"`
	Snapshot   gate.Snapshot `json:"snapshot"`
}

// Orchestrator owns every job status transition.
type Orchestrator struct {
	lock     *Lock
	gate     Gate
	store    Store
	labels   Labels
	engine   Transcriber
	analyzer Analyzer
	notifier Notifier
	logger   *logrus.Logger

	// rss reports process memory for stage logging; nil disables it.
	rss func(ctx context.Context) (uint64, error)
}

// Deps bundles the collaborators. Notifier is optional.
type Deps struct {
	Gate     Gate
	Store    Store
	Labels   Labels
	Engine   Transcriber
	Analyzer Analyzer
	Notifier Notifier
	Logger   *logrus.Logger
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		lock:     &Lock{},
		gate:     d.Gate,
		store:    d.Store,
		labels:   d.Labels,
		engine:   d.Engine,
		analyzer: d.Analyzer,
		notifier: d.Notifier,
		logger:   d.Logger,
		rss:      gate.ProcessRSS,
	}
}

// InFlight reports the job currently holding the lock.
func (o *Orchestrator) InFlight() (string, time.Time, bool) {
	return o.lock.Holder()
}

// Process runs jobID end to end. Every failure is returned as a *Error; jobs
// are only marked FAILED for transcription, analysis and persistence failures.
// A panic in any stage is recovered and reported as that stage's failure.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (out Outcome, err error) {
	start := time.Now()
	log := o.logger.WithField("job_id", jobID)

	if ok, holder := o.lock.TryAcquire(jobID); !ok {
		log.WithField("holder", holder).Warn("rejected: another job is in progress")
		return Outcome{}, newError(KindBusy, jobID, nil, "job %s is in progress, try again later", holder)
	}
	defer func() {
		o.lock.Release(jobID)
		o.logStage(ctx, log, "released")
	}()

	// stage is the kind a panic is reported as; marked is set once the job
	// is ANALYZING and must not be left there.
	stage, marked := KindResourceExhausted, false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.WithField("panic", fmt.Sprint(r)).Errorf("stage panicked\n%s", debug.Stack())
		e := newError(stage, jobID, fmt.Errorf("panic: %v", r), "internal error")
		out = Outcome{}
		if marked {
			err = o.fail(ctx, log, e)
			return
		}
		err = e
	}()

	snap, err := o.gate.Check(ctx)
	if err != nil {
		return Outcome{}, newError(KindResourceExhausted, jobID, err, "admission refused")
	}
	log.WithFields(snap.Fields()).Info("admitted")
	stage = KindPersistenceFailure

	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, newError(KindNotFound, jobID, err, "job not found")
	}
	if err != nil {
		return Outcome{}, newError(KindPersistenceFailure, jobID, err, "load job")
	}
	exists, err := o.store.HasAnalysis(ctx, jobID)
	if err != nil {
		return Outcome{}, newError(KindPersistenceFailure, jobID, err, "look up analysis")
	}
	if exists && job.Status == model.StatusCompleted {
		return Outcome{}, newError(KindAlreadyExists, jobID, nil, "analysis already exists")
	}

	if err := o.store.UpdateStatus(ctx, jobID, model.StatusAnalyzing, ""); err != nil {
		return Outcome{}, newError(KindPersistenceFailure, jobID, err, "mark analyzing")
	}
	marked = true
	log.WithFields(logrus.Fields{"format": job.Format, "file": job.FilePath}).Info("analyzing")

	stage = KindTranscriptionFailure
	transcript, err := o.transcript(ctx, job, log)
	if err != nil {
		return Outcome{}, o.fail(ctx, log, newError(KindTranscriptionFailure, jobID, err, "transcription failed"))
	}
	o.logStage(ctx, log, "transcribed")

	stage = KindAnalysisFailure
	products, categories := o.candidates(ctx, log)
	res := o.analyzer.Analyze(ctx, transcript, products, categories)
	if res.Failed() {
		return Outcome{}, o.fail(ctx, log, newError(KindAnalysisFailure, jobID, errors.New(res.Err), "analysis failed"))
	}
	o.logStage(ctx, log, "analyzed")

	stage = KindPersistenceFailure
	record := Normalize(jobID, *res.Analysis, res.Source)
	saved, err := o.store.UpsertAnalysis(ctx, record)
	if err != nil {
		return Outcome{}, o.fail(ctx, log, newError(KindPersistenceFailure, jobID, err, "save analysis"))
	}
	if err := o.store.UpdateStatus(ctx, jobID, model.StatusCompleted, ""); err != nil {
		return Outcome{}, o.fail(ctx, log, newError(KindPersistenceFailure, jobID, err, "mark completed"))
	}

	out = Outcome{JobID: jobID, AnalysisID: saved.ID, Source: saved.Source, Elapsed: time.Since(start), Snapshot: snap}
	log.WithFields(logrus.Fields{
		"analysis_id": saved.ID,
		"source":      saved.Source,
		"sentiment":   saved.Sentiment,
		"products":    len(saved.ProductNames),
		"elapsed":     out.Elapsed.Round(time.Millisecond),
	}).Info("completed")

	if o.notifier != nil {
		job.Status = model.StatusCompleted
		o.notify(ctx, log, job, saved)
	}
	return out, nil
}

// notify runs after COMPLETED is written; nothing it does changes the outcome.
func (o *Orchestrator) notify(ctx context.Context, log *logrus.Entry, job model.Job, a model.Analysis) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("notify panicked")
		}
	}()
	if err := o.notifier.Notify(ctx, job, a); err != nil {
		log.WithError(err).Warn("notify failed")
	}
}

// transcript returns the text to analyze: the stored text for text jobs, the
// engine's output for audio. Audio transcripts are saved on the job.
func (o *Orchestrator) transcript(ctx context.Context, job model.Job, log *logrus.Entry) (string, error) {
	if job.IsText() {
		text := strings.TrimSpace(job.Transcript)
		if text == "" && job.FilePath != "" {
			b, err := os.ReadFile(job.FilePath)
			if err != nil {
				return "", fmt.Errorf("read text: %w", err)
			}
			text = strings.TrimSpace(string(b))
		}
		if text == "" {
			return "", errors.New("empty transcript")
		}
		return text, nil
	}

	res := o.engine.Transcribe(ctx, job.FilePath)
	if res.Error != "" {
		return "", errors.New(res.Error)
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", errors.New("empty transcript")
	}
	log.WithFields(logrus.Fields{
		"segments": len(res.Segments),
		"duration": fmt.Sprintf("%.1fs", res.Duration),
		"chars":    len([]rune(res.Text)),
	}).Info("transcription done")
	if err := o.store.SaveTranscript(ctx, job.ID, res.Text); err != nil {
		log.WithError(err).Warn("save transcript failed")
	}
	return res.Text, nil
}

func (o *Orchestrator) candidates(ctx context.Context, log *logrus.Entry) (string, string) {
	if o.labels == nil {
		return "", ""
	}
	products, err := o.labels.ProductLabels(ctx)
	if err != nil {
		log.WithError(err).Warn("product labels unavailable")
	}
	categories, err := o.labels.CategoryLabels(ctx)
	if err != nil {
		log.WithError(err).Warn("category labels unavailable")
	}
	return products, categories
}

// fail marks the job FAILED and returns e. A status write error is logged
// since e already describes the root cause.
func (o *Orchestrator) fail(ctx context.Context, log *logrus.Entry, e *Error) error {
	log.WithError(e).Error("job failed")
	// use a fresh context so a cancelled request still records the failure
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := o.store.UpdateStatus(ctx, e.JobID, model.StatusFailed, e.Error()); err != nil {
		log.WithError(err).Error("mark failed")
	}
	return e
}

func (o *Orchestrator) logStage(ctx context.Context, log *logrus.Entry, stage string) {
	if o.rss == nil {
		return
	}
	rss, err := o.rss(ctx)
	if err != nil {
		return
	}
	log.WithFields(logrus.Fields{"stage": stage, "rss_mb": rss >> 20}).Debug("memory")
}
