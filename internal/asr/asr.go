package asr

import (
	"context"
	"fmt"
	"strings"

	"callsense/internal/config"

	"github.com/sirupsen/logrus"
)

// Options are the hints passed with every chunk.
type Options struct {
	Language string
	Region   string
}

// Chunk is the recognizer output for one window of audio.
type Chunk struct {
	Text       string
	Confidence float64
}

// Transcriber converts one window of 16 kHz mono samples into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, opts Options) (Chunk, error)
	Name() string
	Close() error
}

// NewTranscriber returns the backend selected by asr.backend.
func NewTranscriber(cfg *config.Config, logger *logrus.Logger) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ASR.Backend)) {
	case "", config.BackendWhisper:
		return newWhisperTranscriber(cfg, logger)
	case config.BackendCommand:
		return NewCommandTranscriber(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown asr backend %q (want whisper or command)", cfg.ASR.Backend)
	}
}
