package hook

import (
	"log/slog"
	"sync"
)

// Signal identifies a lifecycle event emitted by the core subsystems.
// Subscribers register per numeric id; payloads are signal-specific.
type Signal int

const (
	// Backup lifecycle.
	BackupBegin Signal = iota
	BackupSaveHold
	BackupSaveResume // payload: backup.Manifest
	BackupArchive
	BackupEnd

	// Render lifecycle.
	RenderBegin
	RenderNext  // payload: int task index
	RenderAbort // payload: bool success
	RenderEnd

	// Watchdog lifecycle.
	WatchdogCrash        // payload: int exit code
	WatchdogRetry        // payload: int attempt number
	WatchdogLimitReached // payload: int attempt number
	WatchdogStable       // payload: int prior attempt number
)

var signalNames = map[Signal]string{
	BackupBegin:          "backup.begin",
	BackupSaveHold:       "backup.save_hold",
	BackupSaveResume:     "backup.save_resume",
	BackupArchive:        "backup.archive",
	BackupEnd:            "backup.end",
	RenderBegin:          "render.begin",
	RenderNext:           "render.next",
	RenderAbort:          "render.abort",
	RenderEnd:            "render.end",
	WatchdogCrash:        "watchdog.crash",
	WatchdogRetry:        "watchdog.retry",
	WatchdogLimitReached: "watchdog.limit_reached",
	WatchdogStable:       "watchdog.stable",
}

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return "unknown"
}

// Bus fans lifecycle signals out to ordered subscriber lists.
// All subscribers for a signal fire in registration order; a panicking
// subscriber is recovered and logged so it cannot block the rest.
type Bus struct {
	mu   sync.RWMutex
	subs map[Signal][]func(payload any)
	log  *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{subs: make(map[Signal][]func(any)), log: log}
}

// Subscribe appends fn to the subscriber list for sig.
func (b *Bus) Subscribe(sig Signal, fn func(payload any)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.subs[sig] = append(b.subs[sig], fn)
	b.mu.Unlock()
}

// Emit invokes every subscriber of sig synchronously, in order.
func (b *Bus) Emit(sig Signal, payload any) {
	b.mu.RLock()
	fns := b.subs[sig]
	b.mu.RUnlock()
	for _, fn := range fns {
		b.safeCall(sig, fn, payload)
	}
}

func (b *Bus) safeCall(sig Signal, fn func(any), payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("hook subscriber panicked", "signal", sig.String(), "panic", r)
		}
	}()
	fn(payload)
}
