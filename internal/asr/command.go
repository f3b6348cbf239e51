package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"callsense/internal/audio"
	"callsense/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args []string) ([]byte, error)

// CommandTranscriber writes each chunk to a temporary WAV file and runs an
// external recognizer on it. The recognizer prints the transcript to stdout,
// either as plain text or as whisper-style JSON ({"text", "segments"}).
//
// Placeholders in asr.command: {input}, {language}, {region}. Without {input}
// the chunk path is appended as the last argument.
type CommandTranscriber struct {
	argv    []string
	timeout time.Duration
	rate    int
	run     runFunc
	logger  *logrus.Logger
}

// NewCommandTranscriber parses asr.command with shell quoting rules.
func NewCommandTranscriber(cfg *config.Config, logger *logrus.Logger) (*CommandTranscriber, error) {
	argv, err := shlex.Split(cfg.ASR.Command)
	if err != nil {
		return nil, fmt.Errorf("parse asr.command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("asr.command is empty")
	}
	return &CommandTranscriber{
		argv:    argv,
		timeout: time.Duration(cfg.ASR.TimeoutSec * float64(time.Second)),
		rate:    audio.SampleRate,
		run:     execRun,
		logger:  logger,
	}, nil
}

func (c *CommandTranscriber) Name() string { return filepath.Base(c.argv[0]) }

func (c *CommandTranscriber) Close() error { return nil }

func (c *CommandTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) (Chunk, error) {
	tmp, err := os.CreateTemp("", "callsense-chunk-*.wav")
	if err != nil {
		return Chunk{}, err
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path)

	if err := audio.WriteWAV(path, samples, c.rate); err != nil {
		return Chunk{}, err
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := c.expand(path, opts)
	out, err := c.run(runCtx, c.argv[0], args)
	if err != nil {
		return Chunk{}, fmt.Errorf("%s: %w", c.Name(), err)
	}
	return parseOutput(out), nil
}

// commandOutput is the JSON shape written by whisper-compatible CLIs.
type commandOutput struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Segments   []struct {
		Text    string  `json:"text"`
		AvgProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// parseOutput accepts plain text or a JSON object. Text falls back to the
// joined segments when the top-level field is empty.
func parseOutput(out []byte) Chunk {
	text := strings.TrimSpace(string(out))
	if !strings.HasPrefix(text, "{") {
		return Chunk{Text: text}
	}
	var doc commandOutput
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return Chunk{Text: text}
	}
	chunk := Chunk{Text: strings.TrimSpace(doc.Text)}
	if chunk.Text == "" {
		parts := make([]string, 0, len(doc.Segments))
		for _, s := range doc.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		chunk.Text = strings.Join(parts, " ")
	}
	if doc.Confidence != nil {
		chunk.Confidence = *doc.Confidence
	} else if n := len(doc.Segments); n > 0 {
		var sum float64
		for _, s := range doc.Segments {
			sum += s.AvgProb
		}
		chunk.Confidence = math.Exp(sum / float64(n))
	}
	return chunk
}

func (c *CommandTranscriber) expand(input string, opts Options) []string {
	r := strings.NewReplacer("{input}", input, "{language}", opts.Language, "{region}", opts.Region)
	args := make([]string, 0, len(c.argv))
	sawInput := false
	for _, a := range c.argv[1:] {
		if strings.Contains(a, "{input}") {
			sawInput = true
		}
		args = append(args, r.Replace(a))
	}
	if !sawInput {
		args = append(args, input)
	}
	return args
}

func execRun(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
