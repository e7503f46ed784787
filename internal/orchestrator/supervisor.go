package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SupervisorConfig holds tunable parameters for the supervisor loop.
type SupervisorConfig struct {
	CheckInterval time.Duration
	TaskTimeout   time.Duration
	CompletedTTL  time.Duration
}

// Supervisor watches the pool for stuck and stale tasks: running tasks
// past the wall-clock timeout are cancelled, terminal tasks past the
// TTL are dropped from the registry.
type Supervisor struct {
	Pool     *Pool
	Config   SupervisorConfig
	Log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates a Supervisor with defaults for zero-value config fields.
func NewSupervisor(p *Pool, cfg SupervisorConfig, log *zap.Logger) *Supervisor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.CompletedTTL == 0 {
		cfg.CompletedTTL = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		Pool:   p,
		Config: cfg,
		Log:    log,
		stopCh: make(chan struct{}),
	}
}

// CheckOnce runs one supervision pass against the given clock value and
// reports how many tasks were expired and pruned.
func (s *Supervisor) CheckOnce(nowUnix int64) (expired, pruned int) {
	expired = s.Pool.expireRunning(nowUnix, int64(s.Config.TaskTimeout/time.Second))
	pruned = s.Pool.pruneStale(nowUnix, int64(s.Config.CompletedTTL/time.Second))
	if expired > 0 || pruned > 0 {
		s.Log.Info("supervision pass",
			zap.Int("expired", expired),
			zap.Int("pruned", pruned))
	}
	return expired, pruned
}

// Start spawns a goroutine that periodically runs supervision passes.
func (s *Supervisor) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Config.CheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckOnce(time.Now().Unix())
			}
		}
	}()
}

// Stop signals the supervision goroutine to stop. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
