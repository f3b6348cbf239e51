package asr

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"callsense/internal/audio"
	"callsense/internal/config"
	"callsense/internal/model"

	"github.com/sirupsen/logrus"
)

// Window is a [Start, End] slice of the waveform in seconds.
type Window struct {
	Start float64
	End   float64
}

// Windows splits duration into fixed-length windows. Each window after the
// first starts overlap seconds before the previous one ended; the last window
// is capped at duration and may be shorter than overlap.
func Windows(duration, length, overlap float64) []Window {
	if duration <= 0 || length <= 0 || overlap < 0 || overlap >= length {
		return nil
	}
	var out []Window
	start := 0.0
	for start < duration {
		end := min(start+length, duration)
		out = append(out, Window{Start: start, End: end})
		if end >= duration {
			break
		}
		start = end - overlap
	}
	return out
}

var (
	tagRE   = regexp.MustCompile(`<[^>]*>`)
	spaceRE = regexp.MustCompile(`\s+`)
)

// CleanText strips recognizer tag markup such as <|zh|> and collapses whitespace.
func CleanText(s string) string {
	s = tagRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

// Result is the outcome of transcribing one file. Error is set, and Text and
// Segments are empty, when the run failed before any chunk was processed.
type Result struct {
	Text     string          `json:"text"`
	Segments []model.Segment `json:"segments"`
	Duration float64         `json:"duration"`
	Language string          `json:"language"`
	Model    string          `json:"model"`
	Error    string          `json:"error,omitempty"`
}

// Engine transcribes long recordings window by window.
type Engine struct {
	tr      Transcriber
	load    func(path string) ([]float32, error)
	rate    int
	length  float64
	overlap float64
	opts    Options
	logger  *logrus.Logger
}

// NewEngine builds an Engine from the [asr] section.
func NewEngine(tr Transcriber, cfg *config.Config, logger *logrus.Logger) *Engine {
	return &Engine{
		tr:      tr,
		load:    audio.Load,
		rate:    audio.SampleRate,
		length:  cfg.ASR.ChunkSeconds,
		overlap: cfg.ASR.OverlapSeconds,
		opts:    Options{Language: cfg.ASR.Language, Region: cfg.ASR.Region},
		logger:  logger,
	}
}

// Transcribe loads path once and transcribes it sequentially. A failing chunk
// is logged and skipped. Transcribe never returns a Go error; check Result.Error.
func (e *Engine) Transcribe(ctx context.Context, path string) Result {
	res := Result{Language: e.opts.Language, Model: e.tr.Name()}
	log := e.logger.WithField("file", path)

	waveform, err := e.load(path)
	defer func() {
		waveform = nil
		log.Debug("waveform released")
	}()
	if err != nil {
		log.WithError(err).Error("load audio")
		res.Error = fmt.Sprintf("load audio: %v", err)
		return res
	}
	res.Duration = audio.Duration(len(waveform), e.rate)
	windows := Windows(res.Duration, e.length, e.overlap)
	if len(windows) == 0 {
		res.Error = fmt.Sprintf("no audio to transcribe (duration %.2fs)", res.Duration)
		return res
	}
	log.WithFields(logrus.Fields{"duration": fmt.Sprintf("%.2f", res.Duration), "windows": len(windows)}).Info("transcription started")

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("transcription cancelled")
			return Result{Language: res.Language, Model: res.Model, Duration: res.Duration, Error: err.Error()}
		}
		seg, ok := e.transcribeWindow(ctx, waveform, i, len(windows), w)
		if ok {
			res.Segments = append(res.Segments, seg)
		}
	}

	texts := make([]string, len(res.Segments))
	for i, s := range res.Segments {
		texts[i] = s.Text
	}
	res.Text = strings.Join(texts, " ")
	log.WithFields(logrus.Fields{"segments": len(res.Segments), "chars": len([]rune(res.Text))}).Info("transcription finished")
	return res
}

// transcribeWindow keeps the chunk local so nothing outlives the call.
func (e *Engine) transcribeWindow(ctx context.Context, waveform []float32, idx, total int, w Window) (seg model.Segment, ok bool) {
	log := e.logger.WithFields(logrus.Fields{
		"chunk": fmt.Sprintf("%d/%d", idx+1, total),
		"start": fmt.Sprintf("%.1f", w.Start),
		"end":   fmt.Sprintf("%.1f", w.End),
	})
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("chunk panicked: %v", r)
			ok = false
		}
	}()

	lo := int(math.Round(w.Start * float64(e.rate)))
	hi := min(int(math.Round(w.End*float64(e.rate))), len(waveform))
	if lo >= hi {
		return model.Segment{}, false
	}
	chunk := waveform[lo:hi]
	out, err := e.tr.Transcribe(ctx, chunk, e.opts)
	if err != nil {
		log.WithError(err).Warn("chunk failed, skipping")
		return model.Segment{}, false
	}
	text := CleanText(out.Text)
	if text == "" {
		log.Debug("chunk empty")
		return model.Segment{}, false
	}
	log.WithField("chars", len([]rune(text))).Debug("chunk transcribed")
	return model.Segment{Start: w.Start, End: w.End, Text: text, Confidence: out.Confidence}, true
}
