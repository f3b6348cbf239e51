// Package server runs the worker daemon: HTTP caller surface, control socket
// and metrics.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"callsense/internal/bootstrap"
	"callsense/internal/config"
	"callsense/internal/control"
	"callsense/internal/processing"

	"github.com/sirupsen/logrus"
)

const recentTail = 20

// Server owns the running daemon state.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	api       *API
	startedAt time.Time

	recentMu sync.Mutex
	recent   []control.Completion
}

func newServer(cfg *config.Config, logger *logrus.Logger, proc Processor, jobs Jobs, sampler Sampler) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
		recent:    make([]control.Completion, 0, recentTail),
	}
	s.api = newAPI(proc, jobs, sampler, newMetrics(), logger)
	s.api.record = s.recordCompletion
	return s
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	app, err := bootstrap.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}()

	srv := newServer(cfg, logger, app.Orchestrator, app.Store, app.Gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.controlLoop(ctx)

	web := srv.api.App(cfg.Server.Metrics)
	httpErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on http://%s", cfg.Server.Addr)
		httpErr <- web.Listen(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	var runErr error
	select {
	case s := <-sigCh:
		logger.Infof("received signal %s, shutting down", s)
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http: %w", err)
		}
	}
	cancel()
	if err := web.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	return runErr
}

func (s *Server) recordCompletion(jobID string, out processing.Outcome, err error) {
	c := control.Completion{JobID: jobID, Result: "completed", Source: out.Source, Timestamp: time.Now()}
	if err != nil {
		c.Result = string(processing.KindOf(err))
		if c.Result == "" {
			c.Result = "error"
		}
	}
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.recent = append(s.recent, c)
	if len(s.recent) > recentTail {
		s.recent = s.recent[len(s.recent)-recentTail:]
	}
}

func (s *Server) copyRecent() []control.Completion {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	out := make([]control.Completion, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *Server) status() control.Status {
	st := control.Status{
		Running:   true,
		UptimeSec: time.Since(s.startedAt).Seconds(),
		Counters:  s.api.metrics.snapshot(),
		Recent:    s.copyRecent(),
	}
	if holder, since, ok := s.api.proc.InFlight(); ok {
		st.InFlight, st.Since = holder, since
	}
	return st
}

func (s *Server) controlLoop(ctx context.Context) {
	ln, err := net.Listen("unix", s.cfg.Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		return
	}
	enc := json.NewEncoder(conn)
	switch req.Op {
	case "status":
		_ = enc.Encode(s.status())
	case "health":
		_ = enc.Encode(control.SimpleResponse{OK: true, Message: "ok"})
	case "process":
		out, err := s.api.proc.Process(ctx, req.JobID)
		s.api.metrics.observe(out, err)
		s.recordCompletion(req.JobID, out, err)
		resp := control.ProcessResponse{Success: err == nil, AnalysisID: out.AnalysisID}
		if err != nil {
			resp.Kind = string(processing.KindOf(err))
			resp.Error = err.Error()
		}
		_ = enc.Encode(resp)
	default:
		_ = enc.Encode(control.SimpleResponse{OK: false, Message: "unknown op " + req.Op})
	}
}
