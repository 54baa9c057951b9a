// Package profiling captures CPU profiles on demand when a transaction is
// slower than the configured threshold.
package profiling

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/pkg/config"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

// cpuProfiler abstracts CPU profiling so tests can mock it.
type cpuProfiler interface {
	StartCPUProfile(w io.Writer) error
	StopCPUProfile()
}

// pprofProfiler delegates to runtime/pprof.
type pprofProfiler struct{}

func (pprofProfiler) StartCPUProfile(w io.Writer) error { return pprof.StartCPUProfile(w) }
func (pprofProfiler) StopCPUProfile()                   { pprof.StopCPUProfile() }

// Profiler profiles slow transactions, at most once per cooldown per name.
type Profiler struct {
	config config.Profiling
	dir    string
	cpu    cpuProfiler
	logger *zap.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
	stopped   bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewProfiler returns nil when profiling is disabled; a nil *Profiler is safe to use.
func NewProfiler(cfg config.Profiling, logger *zap.Logger) *Profiler {
	if !cfg.Enabled {
		return nil
	}
	logger = logging.OrNop(logger)
	logger.Info("Initializing on-demand profiler.", zap.Duration("latency_threshold", cfg.LatencyThreshold))

	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Profiler{
		config:    cfg,
		dir:       dir,
		cpu:       pprofProfiler{},
		logger:    logger,
		cooldowns: make(map[string]time.Time),
		done:      make(chan struct{}),
	}
}

// ProfileIfSlow starts a CPU profile in the background when duration exceeds
// the latency threshold and the transaction is not cooling down.
func (p *Profiler) ProfileIfSlow(name string, duration time.Duration) {
	if p == nil || duration < p.config.LatencyThreshold {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	if p.coolingDownLocked(name) {
		p.logger.Debug("Transaction is slow, but is in cooldown.", zap.String("transaction", name))
		return
	}

	p.logger.Info("Transaction exceeded latency threshold. Starting CPU profile.",
		zap.String("transaction", name),
		zap.Duration("duration", duration),
	)
	p.cooldowns[name] = time.Now().Add(p.config.Cooldown)
	p.wg.Add(1)
	go p.startProfiling(name)
}

// Stop cuts a running profile short and waits for it to be written.
func (p *Profiler) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Profiler) startProfiling(name string) {
	defer p.wg.Done()

	filename := filepath.Join(p.dir, fmt.Sprintf("profile_%s_%s.pprof", fileSafe(name), uuid.NewString()))
	f, err := os.Create(filename)
	if err != nil {
		p.logger.Error("Error creating profile file.", zap.String("transaction", name), zap.Error(err))
		return
	}
	defer f.Close()

	// runtime/pprof allows a single CPU profile per process.
	if err := p.cpu.StartCPUProfile(f); err != nil {
		p.logger.Warn("Error starting CPU profile.", zap.String("transaction", name), zap.Error(err))
		return
	}

	timer := time.NewTimer(p.config.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.done:
	}
	p.cpu.StopCPUProfile()

	p.logger.Info("CPU profile completed.", zap.String("transaction", name), zap.String("file", filename))
}

func (p *Profiler) isCoolingDown(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coolingDownLocked(name)
}

func (p *Profiler) coolingDownLocked(name string) bool {
	if cooldownEnd, exists := p.cooldowns[name]; exists {
		if time.Now().Before(cooldownEnd) {
			return true
		}
		delete(p.cooldowns, name)
	}
	return false
}

// fileSafe turns "GET /users/{user_id}" into "GET__users__user_id_".
func fileSafe(name string) string {
	if name == "" {
		return "unmatched"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
