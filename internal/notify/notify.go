// Package notify runs an optional command after a job completes.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"callsense/internal/config"
	"callsense/internal/model"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Runner executes the [notify] command with the job result in its environment.
type Runner struct {
	command string
	args    []string
	env     map[string]string
	timeout time.Duration
	redact  bool
	logger  *logrus.Logger
}

// New returns nil when no notify command is configured.
func New(cfg *config.Config, logger *logrus.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.Notify.Command) == "" {
		return nil, nil
	}
	argv, err := shlex.Split(cfg.Notify.Command)
	if err != nil {
		return nil, fmt.Errorf("parse notify.command: %w", err)
	}
	if len(argv) == 0 {
		return nil, nil
	}
	return &Runner{
		command: argv[0],
		args:    append(argv[1:], cfg.Notify.Args...),
		env:     cfg.Notify.Env,
		timeout: time.Duration(cfg.Notify.TimeoutSec * float64(time.Second)),
		redact:  cfg.Notify.RedactPII,
		logger:  logger,
	}, nil
}

// Notify runs the command. The summary is also passed as the last argument.
func (r *Runner) Notify(ctx context.Context, job model.Job, a model.Analysis) error {
	summary := a.Summary
	if r.redact {
		summary = RedactPII(summary)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	args := append(append([]string{}, r.args...), summary)
	cmd := exec.CommandContext(runCtx, r.command, args...)
	cmd.Env = os.Environ()
	for k, v := range r.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"CALLSENSE_JOB_ID="+job.ID,
		"CALLSENSE_FILE="+job.FilePath,
		"CALLSENSE_SENTIMENT="+string(a.Sentiment),
		"CALLSENSE_CATEGORY="+a.Category,
		"CALLSENSE_PRODUCTS="+strings.Join(a.ProductNames, ","),
		"CALLSENSE_SUMMARY="+summary,
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.WithField("job_id", job.ID).Infof("notify output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}
	return nil
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

// RedactPII masks e-mail addresses and phone numbers.
func RedactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}
