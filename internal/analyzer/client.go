package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"callsense/internal/config"

	"github.com/sirupsen/logrus"
)

// GenerateRequest is the body sent to the generate endpoint.
type GenerateRequest struct {
	Model       string          `json:"model"`
	Prompt      string          `json:"prompt"`
	Stream      bool            `json:"stream"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	Options     GenerateOptions `json:"options"`
}

type GenerateOptions struct {
	NumCtx     int `json:"num_ctx"`
	NumPredict int `json:"num_predict"`
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm returned %d: %s", e.Code, e.Body)
}

// Client talks to an Ollama-style generate endpoint.
type Client struct {
	url    string
	model  string
	params GenerateRequest
	http   *http.Client
	logger *logrus.Logger
}

// NewClient bounds connection setup by llm.connect_timeout_sec. Read time is
// bounded per call by the timeout passed to Stream and Generate.
func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	connect := time.Duration(cfg.LLM.ConnectTimeoutSec * float64(time.Second))
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: connect,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		url:   cfg.LLM.URL,
		model: cfg.LLM.Model,
		params: GenerateRequest{
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
			Options: GenerateOptions{
				NumCtx:     cfg.LLM.NumCtx,
				NumPredict: cfg.LLM.NumPredict,
			},
		},
		http:   &http.Client{Transport: transport},
		logger: logger,
	}
}

func (c *Client) body(prompt string, stream bool) ([]byte, error) {
	req := c.params
	req.Model = c.model
	req.Prompt = prompt
	req.Stream = stream
	return json.Marshal(req)
}

func (c *Client) post(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	b, err := c.body(prompt, stream)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	return resp, nil
}

// Stream sends prompt with stream=true and accumulates the response text.
// idle bounds the wait for each record; the stream fails if it stalls longer.
func (c *Client) Stream(ctx context.Context, prompt string, idle time.Duration, log *logrus.Entry) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := time.AfterFunc(idle, cancel)
	defer timer.Stop()

	resp, err := c.post(ctx, prompt, true)
	if err != nil {
		return "", timeoutAware(ctx, err, idle)
	}
	defer resp.Body.Close()

	started := time.Now()
	seen := 0
	text, chunks, err := Accumulate(Records(resp.Body), func() {
		timer.Reset(idle)
		seen++
		if seen%10 == 0 {
			log.WithField("elapsed", time.Since(started).Round(100*time.Millisecond)).Debug("streaming")
		}
	})
	if err != nil {
		return "", timeoutAware(ctx, err, idle)
	}
	log.WithFields(logrus.Fields{"chunks": chunks, "elapsed": time.Since(started).Round(time.Millisecond)}).Info("stream finished")
	return text, nil
}

// Generate sends prompt with stream=false and returns the response field.
func (c *Client) Generate(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.post(ctx, prompt, false)
	if err != nil {
		return "", timeoutAware(ctx, err, timeout)
	}
	defer resp.Body.Close()
	var out Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", timeoutAware(ctx, err, timeout))
	}
	return out.Response, nil
}

// TimeoutError reports that the model did not answer within After.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response within %s: %v", e.After, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func timeoutAware(ctx context.Context, err error, d time.Duration) error {
	if ctx.Err() != nil {
		return &TimeoutError{After: d, Err: err}
	}
	return err
}
