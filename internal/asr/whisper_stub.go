//go:build !whisper

package asr

import (
	"errors"

	"callsense/internal/config"

	"github.com/sirupsen/logrus"
)

var ErrWhisperUnavailable = errors.New("built without whisper support; rebuild with -tags whisper or set asr.backend = \"command\"")

func newWhisperTranscriber(_ *config.Config, _ *logrus.Logger) (Transcriber, error) {
	return nil, ErrWhisperUnavailable
}
