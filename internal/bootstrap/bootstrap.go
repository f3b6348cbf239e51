// Package bootstrap wires the pipeline components from config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"callsense/internal/analyzer"
	"callsense/internal/asr"
	"callsense/internal/config"
	"callsense/internal/gate"
	"callsense/internal/notify"
	"callsense/internal/processing"
	"callsense/internal/store"

	"github.com/sirupsen/logrus"
)

// App is the assembled worker.
type App struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Store        *store.Store
	Gate         *gate.Gate
	Analyzer     *analyzer.Analyzer
	Orchestrator *processing.Orchestrator

	transcriber asr.Transcriber
	// ASRError is set when the recognizer could not be loaded; audio jobs fail
	// with it while text jobs still run.
	ASRError error
}

// New opens the store and builds every stage.
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}
	an, err := analyzer.New(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Gate:     gate.New(cfg, logger),
		Analyzer: an,
	}

	var engine processing.Transcriber
	tr, err := asr.NewTranscriber(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("speech recognizer unavailable; audio jobs will fail")
		app.ASRError = err
		engine = unavailable{err: err}
	} else {
		app.transcriber = tr
		engine = asr.NewEngine(tr, cfg, logger)
	}

	deps := processing.Deps{
		Gate:     app.Gate,
		Store:    st,
		Labels:   st,
		Engine:   engine,
		Analyzer: an,
		Logger:   logger,
	}
	n, err := notify.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("notify disabled")
	} else if n != nil {
		deps.Notifier = n
	}
	app.Orchestrator = processing.New(deps)
	return app, nil
}

// Close releases the recognizer and the database.
func (a *App) Close() error {
	var errs []error
	if a.transcriber != nil {
		errs = append(errs, a.transcriber.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}

// NewEngine builds a standalone transcription engine for one-shot use.
func NewEngine(cfg *config.Config, logger *logrus.Logger) (*asr.Engine, func() error, error) {
	tr, err := asr.NewTranscriber(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return asr.NewEngine(tr, cfg, logger), tr.Close, nil
}

type unavailable struct{ err error }

func (u unavailable) Transcribe(context.Context, string) asr.Result {
	return asr.Result{Error: "speech recognizer unavailable: " + u.err.Error()}
}
