package watchdog

import (
	"log/slog"
	"testing"

	"github.com/tilewind/bedrockd/internal/hook"
)

// fakeProc captures the registered callbacks so tests can drive exits
// and stability signals directly.
type fakeProc struct {
	starts   int
	closes   int
	startErr error
	exitFn   func(int)
	stableFn func(string)
}

func (p *fakeProc) Start() error { p.starts++; return p.startErr }
func (p *fakeProc) Close()       { p.closes++ }
func (p *fakeProc) RegisterExitHandler(fn func(code int)) {
	p.exitFn = fn
}
func (p *fakeProc) RegisterHandler(pattern string, cb func(line string)) error {
	p.stableFn = cb
	return nil
}

func newTestWatchdog(t *testing.T, limit int) (*Watchdog, *fakeProc, *hook.Bus) {
	t.Helper()
	proc := &fakeProc{}
	bus := hook.NewBus(slog.Default())
	cfg := Config{RetryLimit: limit, StablePattern: `server started`, Enabled: true}
	w := New(cfg, proc, bus, slog.Default())
	if err := w.Attach(cfg); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return w, proc, bus
}

func TestBoundedRetries(t *testing.T) {
	const limit = 3
	w, proc, bus := newTestWatchdog(t, limit)

	var retries, limitHits []int
	bus.Subscribe(hook.WatchdogRetry, func(p any) { retries = append(retries, p.(int)) })
	bus.Subscribe(hook.WatchdogLimitReached, func(p any) { limitHits = append(limitHits, p.(int)) })

	for i := 0; i < limit; i++ {
		proc.exitFn(1)
	}
	if proc.starts != limit {
		t.Fatalf("want %d restarts, got %d", limit, proc.starts)
	}
	if len(retries) != limit || retries[limit-1] != limit {
		t.Fatalf("retry signals wrong: %v", retries)
	}

	// The (limit+1)-th crash must not restart.
	proc.exitFn(1)
	if proc.starts != limit {
		t.Fatalf("restart beyond limit: %d", proc.starts)
	}
	if len(limitHits) != 1 || limitHits[0] != limit {
		t.Fatalf("limit signal wrong: %v", limitHits)
	}

	// And stays suppressed until an external reset.
	proc.exitFn(1)
	if proc.starts != limit {
		t.Fatalf("restart while suppressed: %d", proc.starts)
	}
	w.Reset()
	proc.exitFn(1)
	if proc.starts != limit+1 {
		t.Fatalf("reset did not re-arm restarts: %d", proc.starts)
	}
}

func TestStableResetsCounter(t *testing.T) {
	const limit = 2
	_, proc, bus := newTestWatchdog(t, limit)

	var stable []int
	bus.Subscribe(hook.WatchdogStable, func(p any) { stable = append(stable, p.(int)) })

	proc.exitFn(1)
	proc.exitFn(1)
	if proc.starts != limit {
		t.Fatalf("want %d restarts, got %d", limit, proc.starts)
	}

	proc.stableFn("server started")
	if len(stable) != 1 || stable[0] != limit {
		t.Fatalf("stable payload should carry prior count: %v", stable)
	}

	// A fresh run of crashes gets the full budget again.
	proc.exitFn(1)
	proc.exitFn(1)
	if proc.starts != 2*limit {
		t.Fatalf("counter not reset: %d starts", proc.starts)
	}
}

func TestCleanExitIgnored(t *testing.T) {
	_, proc, bus := newTestWatchdog(t, 3)
	var crashes int
	bus.Subscribe(hook.WatchdogCrash, func(any) { crashes++ })
	proc.exitFn(0)
	if proc.starts != 0 || crashes != 0 {
		t.Fatalf("clean exit must not trigger recovery")
	}
}

func TestDisabledWatchdogIgnoresExit(t *testing.T) {
	w, proc, bus := newTestWatchdog(t, 3)
	var crashes int
	bus.Subscribe(hook.WatchdogCrash, func(any) { crashes++ })
	w.Disable()
	proc.exitFn(137)
	if proc.starts != 0 || proc.closes != 0 || crashes != 0 {
		t.Fatalf("disabled watchdog reacted to exit")
	}
	w.Enable()
	proc.exitFn(137)
	if proc.starts != 1 {
		t.Fatalf("re-enabled watchdog did not restart")
	}
}

func TestCrashSignalCarriesExitCode(t *testing.T) {
	_, proc, bus := newTestWatchdog(t, 1)
	var code int
	bus.Subscribe(hook.WatchdogCrash, func(p any) { code = p.(int) })
	proc.exitFn(139)
	if code != 139 {
		t.Fatalf("crash payload = %d, want 139", code)
	}
	if proc.closes != 1 {
		t.Fatalf("process handle not closed after crash")
	}
}
