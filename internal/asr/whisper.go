//go:build whisper

package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"callsense/internal/config"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/sirupsen/logrus"
)

// whisperTranscriber runs whisper.cpp in-process. The model is loaded once and
// a fresh context is created per chunk.
type whisperTranscriber struct {
	mu      sync.Mutex
	model   whisper.Model
	name    string
	threads int
	logger  *logrus.Logger
}

func newWhisperTranscriber(cfg *config.Config, logger *logrus.Logger) (Transcriber, error) {
	model, err := whisper.New(cfg.ASR.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ASR.ModelPath, err)
	}
	threads := cfg.ASR.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &whisperTranscriber{
		model:   model,
		name:    strings.TrimSuffix(filepath.Base(cfg.ASR.ModelPath), filepath.Ext(cfg.ASR.ModelPath)),
		threads: threads,
		logger:  logger,
	}, nil
}

func (w *whisperTranscriber) Name() string { return w.name }

func (w *whisperTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return Chunk{}, err
	}
	wctx.SetThreads(uint(w.threads))
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			w.logger.Warnf("set language: %v", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Chunk{}, err
	}

	var (
		b      strings.Builder
		probs  float64
		tokens int
	)
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Chunk{}, err
		}
		b.WriteString(seg.Text)
		if !strings.HasSuffix(seg.Text, " ") {
			b.WriteRune(' ')
		}
		for _, tok := range seg.Tokens {
			probs += float64(tok.P)
			tokens++
		}
	}
	out := Chunk{Text: b.String()}
	if tokens > 0 {
		out.Confidence = probs / float64(tokens)
	}
	return out, nil
}

func (w *whisperTranscriber) Close() error {
	return w.model.Close()
}
