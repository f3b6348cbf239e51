// Package gate decides whether the host has enough memory, CPU and disk to
// admit another job.
package gate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"callsense/internal/config"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

const gib = 1 << 30

// Snapshot is one reading of host resources.
type Snapshot struct {
	MemoryPercent        float64   `json:"memory_percent"`
	MemoryAvailableBytes uint64    `json:"memory_available_bytes"`
	CPUPercent           float64   `json:"cpu_percent"`
	DiskFreeBytes        uint64    `json:"disk_free_bytes"`
	Healthy              bool      `json:"healthy"`
	Violations           []string  `json:"violations,omitempty"`
	SampledAt            time.Time `json:"sampled_at"`
}

// Fields returns the snapshot as log fields.
func (s Snapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"mem_pct":      fmt.Sprintf("%.1f", s.MemoryPercent),
		"mem_avail_gb": fmt.Sprintf("%.2f", float64(s.MemoryAvailableBytes)/gib),
		"cpu_pct":      fmt.Sprintf("%.1f", s.CPUPercent),
		"disk_free_gb": fmt.Sprintf("%.2f", float64(s.DiskFreeBytes)/gib),
	}
}

// Thresholds are the admission limits.
type Thresholds struct {
	MaxMemoryPercent float64
	MaxCPUPercent    float64
	MinDiskFreeBytes uint64
}

// Evaluate marks s healthy iff memory and CPU are strictly below their limits
// and free disk is at least the minimum.
func (t Thresholds) Evaluate(s Snapshot) Snapshot {
	s.Violations = nil
	if s.MemoryPercent >= t.MaxMemoryPercent {
		s.Violations = append(s.Violations, fmt.Sprintf("memory %.1f%% >= %.1f%%", s.MemoryPercent, t.MaxMemoryPercent))
	}
	if s.CPUPercent >= t.MaxCPUPercent {
		s.Violations = append(s.Violations, fmt.Sprintf("cpu %.1f%% >= %.1f%%", s.CPUPercent, t.MaxCPUPercent))
	}
	if s.DiskFreeBytes < t.MinDiskFreeBytes {
		s.Violations = append(s.Violations, fmt.Sprintf("disk free %.2f GiB < %.2f GiB", float64(s.DiskFreeBytes)/gib, float64(t.MinDiskFreeBytes)/gib))
	}
	s.Healthy = len(s.Violations) == 0
	return s
}

// UnhealthyError rejects admission and carries the offending snapshot.
type UnhealthyError struct {
	Snapshot Snapshot
}

func (e *UnhealthyError) Error() string {
	return "system resources exhausted: " + strings.Join(e.Snapshot.Violations, "; ")
}

// Sampler reads raw host metrics. Healthy and Violations are ignored.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SystemSampler reads the local host through gopsutil. CPU percent blocks
// for CPUWindow.
type SystemSampler struct {
	CPUWindow time.Duration
	DiskPath  string
}

func (s SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory: %w", err)
	}
	pct, err := cpu.PercentWithContext(ctx, s.CPUWindow, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) == 0 {
		return Snapshot{}, fmt.Errorf("cpu: no reading")
	}
	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk %s: %w", path, err)
	}
	return Snapshot{
		MemoryPercent:        vm.UsedPercent,
		MemoryAvailableBytes: vm.Available,
		CPUPercent:           pct[0],
		DiskFreeBytes:        du.Free,
	}, nil
}

// Gate samples on every Check unless a positive ttl lets it reuse the last
// reading. Thresholds are applied on every call either way.
type Gate struct {
	sampler Sampler
	limits  Thresholds
	ttl     time.Duration
	now     func() time.Time
	logger  *logrus.Logger

	mu     sync.Mutex
	cached *Snapshot
}

// New builds a Gate from the [gate] section using the host sampler.
func New(cfg *config.Config, logger *logrus.Logger) *Gate {
	sampler := SystemSampler{
		CPUWindow: time.Duration(cfg.Gate.CPUSampleMS) * time.Millisecond,
		DiskPath:  cfg.Gate.DiskPath,
	}
	limits := Thresholds{
		MaxMemoryPercent: cfg.Gate.MaxMemoryPercent,
		MaxCPUPercent:    cfg.Gate.MaxCPUPercent,
		MinDiskFreeBytes: cfg.Gate.MinDiskFreeBytes,
	}
	return NewWithSampler(sampler, limits, time.Duration(cfg.Gate.CacheSeconds*float64(time.Second)), logger)
}

// NewWithSampler builds a Gate around any Sampler.
func NewWithSampler(s Sampler, limits Thresholds, ttl time.Duration, logger *logrus.Logger) *Gate {
	return &Gate{sampler: s, limits: limits, ttl: ttl, now: time.Now, logger: logger}
}

// Sample returns the current evaluated snapshot without rejecting.
func (g *Gate) Sample(ctx context.Context) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if g.ttl > 0 && g.cached != nil && now.Sub(g.cached.SampledAt) < g.ttl {
		return g.limits.Evaluate(*g.cached), nil
	}
	snap, err := g.sampler.Sample(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.SampledAt = now
	if g.ttl > 0 {
		g.cached = &snap
	}
	return g.limits.Evaluate(snap), nil
}

// Check samples resources and returns an *UnhealthyError when any limit is hit.
func (g *Gate) Check(ctx context.Context) (Snapshot, error) {
	snap, err := g.Sample(ctx)
	if err != nil {
		g.logger.WithError(err).Error("resource sampling failed")
		return Snapshot{}, fmt.Errorf("sample resources: %w", err)
	}
	log := g.logger.WithFields(snap.Fields())
	if !snap.Healthy {
		log.WithField("violations", strings.Join(snap.Violations, "; ")).Warn("admission rejected")
		return snap, &UnhealthyError{Snapshot: snap}
	}
	log.Debug("resources ok")
	return snap, nil
}

// ProcessRSS returns the resident memory of the current process.
func ProcessRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
