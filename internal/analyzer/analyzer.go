// Package analyzer classifies call transcripts with a local LLM, falling back
// to a keyword heuristic when the model path fails.
package analyzer

import (
	"context"
	"errors"
	"time"

	"callsense/internal/asr"
	"callsense/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type settings struct {
	stream        bool
	baseTimeout   float64
	maxTimeout    float64
	retryAttempts int
	retryWait     time.Duration
	retryChars    int
}

// Analyzer runs the streaming strategy, then the bounded retry strategy, then
// the keyword fallback, returning the first success.
type Analyzer struct {
	set      settings
	client   *Client
	parser   *Parser
	fallback Strategy
	logger   *logrus.Logger
}

// New builds an Analyzer from the [llm] section.
func New(cfg *config.Config, logger *logrus.Logger) (*Analyzer, error) {
	parser, err := NewParser(NewConverter(cfg.LLM.Script, logger), logger)
	if err != nil {
		return nil, err
	}
	attempts := cfg.LLM.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Analyzer{
		set: settings{
			stream:        cfg.LLM.Stream,
			baseTimeout:   cfg.LLM.BaseTimeoutSec,
			maxTimeout:    cfg.LLM.MaxTimeoutSec,
			retryAttempts: attempts,
			retryWait:     time.Duration(cfg.LLM.RetryWaitSec * float64(time.Second)),
			retryChars:    cfg.LLM.RetryPromptChars,
		},
		client:   NewClient(cfg, logger),
		parser:   parser,
		fallback: Fallback{},
		logger:   logger,
	}, nil
}

// Analyze never panics or returns a Go error. The result fails only when ctx
// is done before any strategy could answer.
func (a *Analyzer) Analyze(ctx context.Context, transcript, products, categories string) Result {
	req := Request{
		Transcript: asr.CleanText(transcript),
		Products:   products,
		Categories: categories,
	}
	log := a.logger.WithField("chars", len([]rune(req.Transcript)))
	log.Info("analysis started")

	strategies := []Strategy{a.retryStrategy(), a.fallback}
	if a.set.stream {
		strategies = append([]Strategy{a.streamStrategy()}, strategies...)
	}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Failure("analysis aborted: %v", err)
		}
		res := s.Analyze(ctx, req)
		if !res.Failed() {
			log.WithField("source", res.Source).Info("analysis finished")
			return res
		}
		log.WithField("reason", res.Err).Warn("strategy failed, trying next")
	}
	return Failure("analysis aborted: no strategy succeeded")
}

func (a *Analyzer) timeout(transcript string) time.Duration {
	return Timeout(len([]rune(transcript)), a.set.baseTimeout, a.set.maxTimeout)
}

// finish parses model text, substituting the heuristic when it is unusable.
func (a *Analyzer) finish(raw string, req Request, src Source) Result {
	if parsed, ok := a.parser.Parse(raw); ok {
		return Success(parsed, src)
	}
	return a.fallback.Analyze(context.Background(), req)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req Request) Result

func (f StrategyFunc) Analyze(ctx context.Context, req Request) Result { return f(ctx, req) }

func (a *Analyzer) streamStrategy() Strategy {
	return StrategyFunc(func(ctx context.Context, req Request) Result {
		timeout := a.timeout(req.Transcript)
		log := a.logger.WithFields(logrus.Fields{"req_id": uuid.NewString(), "path": "stream", "timeout": timeout})
		log.Info("llm request")
		raw, err := a.client.Stream(ctx, BuildPrompt(req.Transcript, req.Products, req.Categories), timeout, log)
		if err != nil {
			log.WithError(err).Warn("streaming failed")
			return Failure("streaming failed: %v", err)
		}
		return a.finish(raw, req, SourceStream)
	})
}

func (a *Analyzer) retryStrategy() Strategy {
	return StrategyFunc(func(ctx context.Context, req Request) Result {
		timeout := a.timeout(req.Transcript)
		prompt := BuildRetryPrompt(req.Transcript, a.set.retryChars)
		reqID := uuid.NewString()

		var (
			raw     string
			attempt int
			pause   = &timeoutPause{wait: a.set.retryWait}
		)
		op := func() error {
			attempt++
			log := a.logger.WithFields(logrus.Fields{"req_id": reqID, "path": "retry", "attempt": attempt, "timeout": timeout})
			log.Info("llm request")
			out, err := a.client.Generate(ctx, prompt, timeout)
			var te *TimeoutError
			pause.timedOut = errors.As(err, &te)
			if err != nil {
				log.WithError(err).Warn("attempt failed")
				return err
			}
			raw = out
			return nil
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(pause, uint64(a.set.retryAttempts-1)),
			ctx,
		)
		if err := backoff.Retry(op, policy); err != nil {
			return Failure("retry exhausted after %d attempts: %v", attempt, err)
		}
		return a.finish(raw, req, SourceRetry)
	})
}

// timeoutPause waits before the next attempt only when the last one timed
// out; other failures are retried immediately.
type timeoutPause struct {
	wait     time.Duration
	timedOut bool
}

func (p *timeoutPause) NextBackOff() time.Duration {
	if p.timedOut {
		return p.wait
	}
	return 0
}

func (p *timeoutPause) Reset() {}
