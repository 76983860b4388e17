// Package watchdog observes server process exits and applies a
// bounded-retry recovery policy.
package watchdog

import (
	"log/slog"
	"sync"

	"github.com/tilewind/bedrockd/internal/hook"
	"github.com/tilewind/bedrockd/internal/metrics"
)

// Process is the slice of the console supervisor the watchdog needs.
type Process interface {
	Start() error
	Close()
	RegisterExitHandler(fn func(code int))
	RegisterHandler(pattern string, cb func(line string)) error
}

// Config holds the recovery policy.
type Config struct {
	RetryLimit    int    // restarts allowed between stability signals
	StablePattern string // server ready line; resets the fail counter
	Enabled       bool
}

// Watchdog restarts the server after unexpected exits, at most
// RetryLimit times in a row. A stability signal resets the counter so
// crashes separated by long healthy intervals never exhaust the limit.
// Once the limit is reached no further restarts happen until Reset.
type Watchdog struct {
	mu        sync.Mutex
	enabled   bool
	failCount int
	limit     int

	proc Process
	bus  *hook.Bus
	log  *slog.Logger
}

func New(cfg Config, proc Process, bus *hook.Bus, log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = hook.NewBus(log)
	}
	return &Watchdog{
		enabled: cfg.Enabled,
		limit:   cfg.RetryLimit,
		proc:    proc,
		bus:     bus,
		log:     log,
	}
}

// Attach subscribes to the process exit event and, when configured, the
// stability pattern. Call once before the server starts.
func (w *Watchdog) Attach(cfg Config) error {
	w.proc.RegisterExitHandler(w.onExit)
	if cfg.StablePattern != "" {
		if err := w.proc.RegisterHandler(cfg.StablePattern, w.onStable); err != nil {
			return err
		}
	}
	return nil
}

// onExit runs on the supervisor's monitor goroutine after every exit.
func (w *Watchdog) onExit(code int) {
	w.mu.Lock()
	if !w.enabled || code == 0 {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.bus.Emit(hook.WatchdogCrash, code)
	metrics.IncCrash()
	w.log.Warn("server crashed", "code", code)
	w.proc.Close()

	w.mu.Lock()
	if w.failCount+1 > w.limit {
		attempts := w.failCount
		w.mu.Unlock()
		w.log.Error("crash retry limit reached, auto-restart disabled until reset",
			"attempts", attempts, "limit", w.limit)
		w.bus.Emit(hook.WatchdogLimitReached, attempts)
		return
	}
	w.failCount++
	attempt := w.failCount
	w.mu.Unlock()

	if err := w.proc.Start(); err != nil {
		w.log.Error("restart after crash failed", "attempt", attempt, "err", err)
		return
	}
	metrics.IncRestart()
	w.log.Info("server restarted after crash", "attempt", attempt)
	w.bus.Emit(hook.WatchdogRetry, attempt)
}

// onStable runs when the server's ready line appears. It resets the fail
// counter so the limit only bounds consecutive failed starts.
func (w *Watchdog) onStable(string) {
	w.mu.Lock()
	prior := w.failCount
	w.failCount = 0
	w.mu.Unlock()
	w.bus.Emit(hook.WatchdogStable, prior)
	if prior > 0 {
		w.log.Info("server stable, crash counter reset", "prior", prior)
	}
}

// Enable turns crash handling on.
func (w *Watchdog) Enable() {
	w.mu.Lock()
	w.enabled = true
	w.mu.Unlock()
}

// Disable turns crash handling off, e.g. around an intentional stop.
func (w *Watchdog) Disable() {
	w.mu.Lock()
	w.enabled = false
	w.mu.Unlock()
}

// Enabled reports whether crash handling is currently on.
func (w *Watchdog) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Reset clears the fail counter, re-arming auto-restart after the limit
// was reached.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	w.failCount = 0
	w.mu.Unlock()
}

// FailCount returns the current consecutive-crash count.
func (w *Watchdog) FailCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failCount
}
