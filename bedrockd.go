// Package bedrockd wraps a console-driven dedicated game server with
// live backups, crash recovery, map rendering and a small REST API. The
// root package is a facade over the internal components so the wrapper
// can be embedded as a library.
package bedrockd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tilewind/bedrockd/internal/archive"
	"github.com/tilewind/bedrockd/internal/backup"
	cfg "github.com/tilewind/bedrockd/internal/config"
	"github.com/tilewind/bedrockd/internal/console"
	"github.com/tilewind/bedrockd/internal/history"
	"github.com/tilewind/bedrockd/internal/hook"
	"github.com/tilewind/bedrockd/internal/logger"
	"github.com/tilewind/bedrockd/internal/metrics"
	"github.com/tilewind/bedrockd/internal/render"
	"github.com/tilewind/bedrockd/internal/server"
	"github.com/tilewind/bedrockd/internal/session"
	"github.com/tilewind/bedrockd/internal/version"
	"github.com/tilewind/bedrockd/internal/watchdog"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.FileConfig

type Status = console.Status

type BackupMode = backup.Mode

const (
	BackupIncremental = backup.Incremental
	BackupFull        = backup.FullCopy
)

type BackupResult = backup.Result

type Manifest = backup.Manifest

type Signal = hook.Signal

// Lifecycle signals observable via Subscribe.
const (
	SignalBackupBegin      = hook.BackupBegin
	SignalBackupSaveHold   = hook.BackupSaveHold
	SignalBackupSaveResume = hook.BackupSaveResume
	SignalBackupArchive    = hook.BackupArchive
	SignalBackupEnd        = hook.BackupEnd
	SignalRenderBegin      = hook.RenderBegin
	SignalRenderNext       = hook.RenderNext
	SignalRenderAbort      = hook.RenderAbort
	SignalRenderEnd        = hook.RenderEnd
	SignalCrash            = hook.WatchdogCrash
	SignalRetry            = hook.WatchdogRetry
	SignalLimitReached     = hook.WatchdogLimitReached
	SignalStable           = hook.WatchdogStable
)

type Module = hook.Module

type Event = history.Event

// LoadConfig reads and validates the TOML config at path.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Wrapper assembles and owns every subsystem around one server process.
type Wrapper struct {
	cfg *Config
	log *slog.Logger

	proc     *console.Supervisor
	bus      *hook.Bus
	gate     *session.Gate
	coord    *backup.Coordinator
	wd       *watchdog.Watchdog
	runner   *render.Runner
	sched    *backup.Scheduler
	hist     *history.Store
	registry *hook.Registry
	httpSrv  *http.Server
	capture  io.WriteCloser
}

// New builds a Wrapper from cfg. Nothing runs until Start.
func New(c *Config) (*Wrapper, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := logger.Default(c.Log)

	bus := hook.NewBus(log)
	gate := session.NewGate()

	w := &Wrapper{cfg: c, log: log, bus: bus, gate: gate}

	opts := []console.Option{console.WithEcho(os.Stdout)}
	if capture := c.Log.ConsoleWriter(c.Server.Name); capture != nil {
		w.capture = capture
		opts = append(opts, console.WithCapture(capture))
	}
	w.proc = console.New(console.Spec{
		Name:    c.Server.Name,
		Command: c.Server.Command,
		WorkDir: c.Server.WorkDir,
		Env:     c.Server.Env,
	}, log, opts...)
	for _, p := range c.Ignore {
		if err := w.proc.AddIgnorePattern(p); err != nil {
			return nil, err
		}
	}

	store := archive.NewStore(log)
	w.coord = backup.NewCoordinator(c.BackupCoordinatorConfig(), w.proc, store, bus, gate, log)

	wdCfg := watchdog.Config{
		Enabled:       c.Watchdog.Enabled,
		RetryLimit:    c.Watchdog.RetryLimit,
		StablePattern: c.Watchdog.StablePattern,
	}
	w.wd = watchdog.New(wdCfg, w.proc, bus, log)
	if err := w.wd.Attach(wdCfg); err != nil {
		return nil, err
	}
	w.coord.SetWatchdog(w.wd)

	w.runner = render.NewRunner(c.Render, gate, bus, log)

	if c.Backup.Schedule != "" {
		s, err := backup.NewScheduler(w.coord, c.Backup.Schedule, c.Backup.Archive, log)
		if err != nil {
			return nil, err
		}
		w.sched = s
	}

	if c.History.Path != "" {
		h, err := history.Open(c.History.Path)
		if err != nil {
			return nil, err
		}
		w.hist = h
		w.recordLifecycle()
	}

	w.registry = hook.NewRegistry(version.Current, bus, log)
	return w, nil
}

// recordLifecycle mirrors watchdog signals into the history store.
func (w *Wrapper) recordLifecycle() {
	w.bus.Subscribe(hook.WatchdogCrash, func(p any) {
		code, _ := p.(int)
		_ = w.hist.Record(context.Background(), history.Event{
			Type: history.EventCrash, Detail: fmt.Sprintf("exit code %d", code),
		})
	})
	w.bus.Subscribe(hook.WatchdogRetry, func(p any) {
		attempt, _ := p.(int)
		_ = w.hist.Record(context.Background(), history.Event{
			Type: history.EventRestart, Detail: fmt.Sprintf("attempt %d", attempt), OK: true,
		})
	})
}

// RegisterModule adds an extension module; call before Start.
func (w *Wrapper) RegisterModule(m Module) error { return w.registry.Register(m) }

// Subscribe registers fn for sig on the wrapper's signal bus.
func (w *Wrapper) Subscribe(sig Signal, fn func(payload any)) { w.bus.Subscribe(sig, fn) }

// Start launches the server process, the scheduler and the HTTP API.
func (w *Wrapper) Start() error {
	w.registry.InitAll()
	if err := w.proc.Start(); err != nil {
		return err
	}
	if w.sched != nil {
		w.sched.Start()
	}
	if w.cfg.HTTP.Addr != "" {
		var hs server.HistorySource
		if w.hist != nil {
			hs = w.hist
		}
		r := server.NewRouter(w.proc, w.coord, w.gate, hs, w.cfg.HTTP.BasePath)
		w.httpSrv = server.NewServer(w.cfg.HTTP.Addr, r)
	}
	return nil
}

// Stop shuts everything down. The server gets a "stop" command and wait
// seconds of grace before its handle is released.
func (w *Wrapper) Stop(wait time.Duration) {
	w.wd.Disable()
	if w.sched != nil {
		w.sched.Stop()
	}
	if w.proc.IsRunning() {
		_ = w.proc.SendCommand("stop")
		if !w.proc.WaitExit(wait) {
			w.proc.Kill()
		}
	}
	w.proc.Close()
	if w.httpSrv != nil {
		_ = w.httpSrv.Close()
	}
	w.registry.ShutdownAll()
	if w.hist != nil {
		_ = w.hist.Close()
	}
	if w.capture != nil {
		_ = w.capture.Close()
	}
	w.log.Info("wrapper stopped", "server", w.cfg.Server.Name)
}

// Backup runs one backup session.
func (w *Wrapper) Backup(mode BackupMode, doArchive bool) (BackupResult, error) {
	res, err := w.coord.Run(mode, doArchive)
	if w.hist != nil {
		detail := fmt.Sprintf("mode=%s files=%d skipped=%d", res.Mode, res.Files, res.Skipped)
		_ = w.hist.Record(context.Background(), history.Event{
			Type: history.EventBackup, Detail: detail, OK: err == nil,
		})
	}
	return res, err
}

// Restore replaces the world with an archive's content.
func (w *Wrapper) Restore(archivePath string) error {
	err := w.coord.Restore(archivePath)
	if w.hist != nil {
		_ = w.hist.Record(context.Background(), history.Event{
			Type: history.EventRestore, Detail: archivePath, OK: err == nil,
		})
	}
	return err
}

// Render runs the configured render task list.
func (w *Wrapper) Render() error { return w.runner.Run() }

// AbortRender kills the current render task and stops the sequence.
func (w *Wrapper) AbortRender() { w.runner.Abort() }

// SendCommand forwards text to the server's stdin.
func (w *Wrapper) SendCommand(text string) error { return w.proc.SendCommand(text) }

// Snapshot returns the server process status.
func (w *Wrapper) Snapshot() Status { return w.proc.Snapshot() }

// IsRunning reports whether the server process is alive.
func (w *Wrapper) IsRunning() bool { return w.proc.IsRunning() }

// WaitExit blocks until the server exits or timeout elapses (<= 0 waits
// without a deadline).
func (w *Wrapper) WaitExit(timeout time.Duration) bool { return w.proc.WaitExit(timeout) }

// ResetWatchdog re-arms auto-restart after the retry limit was reached.
func (w *Wrapper) ResetWatchdog() { w.wd.Reset() }

// History returns up to limit recorded events, newest first. Returns nil
// when history is disabled.
func (w *Wrapper) History(ctx context.Context, limit int) ([]Event, error) {
	if w.hist == nil {
		return nil, nil
	}
	return w.hist.Recent(ctx, limit)
}

// CheckUpdate fetches the configured version page and reports the latest
// release and whether it is newer than installed.
func (w *Wrapper) CheckUpdate(installed string) (latest string, newer bool, err error) {
	if w.cfg.VersionURL == "" {
		return "", false, fmt.Errorf("version_url is not configured")
	}
	latest, err = version.NewChecker(w.cfg.VersionURL).Latest()
	if err != nil {
		return "", false, err
	}
	if installed == "" {
		return latest, false, nil
	}
	return latest, version.UpdateAvailable(installed, latest), nil
}

// RegisterMetrics registers the wrapper's Prometheus collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers with the default Prometheus registerer.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// Version returns the wrapper's build version.
func Version() string { return version.Current }
