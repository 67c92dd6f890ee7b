package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/constants"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
)

var (
	ErrAlreadyRunning = errors.New("external sync daemon is already running")
	ErrNotRunning      = errors.New("external sync daemon is not running")
)

const (
	minInterval     = 10 * time.Second
	maxInterval     = 30 * time.Minute
	defaultInterval = 60 * time.Second
)

// Daemon wraps an Engine in a poll loop.
type Daemon struct {
	engine   *Engine
	interval time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cycleInFlight int32

	resultMu   sync.Mutex
	lastResult Result
}

// NewDaemon constructs a Daemon. interval is clamped to [10s, 30m]; zero
// picks the default of 60s.
func NewDaemon(engine *Engine, interval time.Duration, log *logger.Logger) *Daemon {
	if interval == 0 {
		interval = defaultInterval
	}
	if interval < minInterval {
		interval = minInterval
	}
	if interval > maxInterval {
		interval = maxInterval
	}
	return &Daemon{engine: engine, interval: interval, logger: log}
}

// Start begins the poll loop. Start/Stop are idempotent.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)
	return nil
}

// Stop halts the poll loop, waiting up to the shutdown timeout for an
// in-flight cycle.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(constants.DaemonShutdownTimeout):
		d.logger.Warn("external sync daemon stop timed out waiting for in-flight cycle")
	}
	return nil
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCycle(ctx) // initial check so links are evaluated on startup

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&d.cycleInFlight, 0, 1) {
				continue
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer atomic.StoreInt32(&d.cycleInFlight, 0)
				d.runCycle(ctx)
			}()
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	result := d.engine.Sync(ctx, Options{All: true})

	d.resultMu.Lock()
	d.lastResult = result
	d.resultMu.Unlock()

	d.logger.Info("external sync cycle complete",
		zap.Int("pushed", result.Pushed),
		zap.Int("pulled", result.Pulled),
		zap.Int("skipped", result.Skipped),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("errors", len(result.Errors)))
	for _, err := range result.Errors {
		d.logger.Warn("external sync error", zap.Error(err))
	}
}

// LastResult returns the most recently completed cycle's summary.
func (d *Daemon) LastResult() Result {
	d.resultMu.Lock()
	defer d.resultMu.Unlock()
	return d.lastResult
}
