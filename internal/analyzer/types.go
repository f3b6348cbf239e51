package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Values is a JSON field the model may answer with either a string or a list.
type Values []string

func (v *Values) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*v = Values{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("want string or list of strings: %w", err)
	}
	*v = Values(many)
	return nil
}

// Join flattens the values with sep, skipping blanks.
func (v Values) Join(sep string) string {
	parts := make([]string, 0, len(v))
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

// Analysis holds the fields every successful strategy produces.
type Analysis struct {
	ProductNames Values `json:"product_name"`
	Sentiment    string `json:"evaluation_tendency"`
	Category     Values `json:"feedback_category"`
	Summary      string `json:"feedback_summary"`
	Detail       string `json:"detailed_content"`
}

// Source names the strategy that produced a result.
type Source string

const (
	SourceStream   Source = "llm-stream"
	SourceRetry    Source = "llm-retry"
	SourceFallback Source = "fallback"
)

// Result is either a successful Analysis or a failure reason, never both.
type Result struct {
	Analysis *Analysis
	Source   Source
	Err      string
}

func Success(a Analysis, src Source) Result {
	return Result{Analysis: &a, Source: src}
}

func Failure(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

// Failed reports whether the result carries an error instead of an analysis.
func (r Result) Failed() bool { return r.Analysis == nil }

// Request is the input to a Strategy.
type Request struct {
	Transcript string
	Products   string // newline-joined candidates
	Categories string // newline-joined candidates
}

// Strategy turns a transcript into a Result. Implementations never panic on
// arbitrary input.
type Strategy interface {
	Analyze(ctx context.Context, req Request) Result
}
