package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tilewind/bedrockd/internal/hook"
	"github.com/tilewind/bedrockd/internal/metrics"
	"github.com/tilewind/bedrockd/internal/session"
)

// Mode selects the backup strategy.
type Mode string

const (
	// Incremental negotiates a save-hold window and copies only the
	// committed byte ranges the server reports, without stopping it.
	Incremental Mode = "incremental"
	// FullCopy stops the server and mirrors the whole world directory.
	FullCopy Mode = "full"
)

// Default protocol parameters. ResumePattern matches the server's
// confirmation that the save window closed.
const (
	DefaultQueryInterval = time.Second
	DefaultResumePattern = `(?i)changes to the world are resumed`
	DefaultStopTimeout   = 30 * time.Second
	DefaultReadyTimeout  = 2 * time.Minute
	hookTimeout          = 60 * time.Second
)

// ServerProcess is the slice of the console supervisor the coordinator
// drives. It never touches the child process directly.
type ServerProcess interface {
	Name() string
	IsRunning() bool
	SendCommand(text string) error
	SetWaitPattern(pattern string) error
	WaitArmed(timeout time.Duration) bool
	WaitForMatch(pattern string, timeout time.Duration) (bool, error)
	MatchedText() string
	WaitExit(timeout time.Duration) bool
	Start() error
	Close()
}

// Archiver produces and restores compressed snapshots.
type Archiver interface {
	Archive(source, destDir string, keep int) (string, error)
	Restore(archivePath, destDir string) error
}

// WatchdogControl lets the coordinator suppress crash detection around
// an intentional stop and restore it to its prior state afterwards.
type WatchdogControl interface {
	Enable()
	Disable()
	Enabled() bool
}

// Config holds the backup coordinator settings.
type Config struct {
	WorldDir  string // live world directory (source)
	WorldName string // defaults to filepath.Base(WorldDir)
	DestDir   string // snapshot destination directory

	ArchiveDir string
	Keep       int // archive keep count; -1 keeps all

	QueryInterval time.Duration // save query resend interval
	ResumePattern string
	ReadyPattern  string // server ready line, for restart after full copy
	StopTimeout   time.Duration
	ReadyTimeout  time.Duration

	// MetadataTail overrides the trailing-entries heuristic; 0 means
	// DefaultMetadataTail.
	MetadataTail int

	StopBeforeBackup bool // run every backup as full copy
	RestartAfterFull bool

	Notify        bool
	NotifyCommand string // chat command prefix, default "say"

	PreHook  string // shell command before a backup session
	PostHook string // shell command after a backup session
}

func (c *Config) worldName() string {
	if c.WorldName != "" {
		return c.WorldName
	}
	return filepath.Base(filepath.Clean(c.WorldDir))
}

func (c *Config) queryInterval() time.Duration {
	if c.QueryInterval > 0 {
		return c.QueryInterval
	}
	return DefaultQueryInterval
}

func (c *Config) resumePattern() string {
	if c.ResumePattern != "" {
		return c.ResumePattern
	}
	return DefaultResumePattern
}

func (c *Config) stopTimeout() time.Duration {
	if c.StopTimeout > 0 {
		return c.StopTimeout
	}
	return DefaultStopTimeout
}

func (c *Config) readyTimeout() time.Duration {
	if c.ReadyTimeout > 0 {
		return c.ReadyTimeout
	}
	return DefaultReadyTimeout
}

func (c *Config) metadataTail() int {
	if c.MetadataTail > 0 {
		return c.MetadataTail
	}
	return DefaultMetadataTail
}

// Result reports what a backup session accomplished. Archive failure
// degrades the result instead of failing the session, so ArchiveErr may
// be set on an otherwise successful run.
type Result struct {
	Mode        Mode
	Files       int
	Skipped     int
	ArchivePath string
	ArchiveErr  error
	Duration    time.Duration
}

// Coordinator drives the incremental and full-copy backup protocols.
// Exactly one session runs at a time, enforced by the shared gate.
type Coordinator struct {
	cfg   Config
	proc  ServerProcess
	store Archiver
	bus   *hook.Bus
	gate  *session.Gate
	wd    WatchdogControl // may be nil
	log   *slog.Logger
}

func NewCoordinator(cfg Config, proc ServerProcess, store Archiver, bus *hook.Bus, gate *session.Gate, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = hook.NewBus(log)
	}
	if gate == nil {
		gate = session.NewGate()
	}
	return &Coordinator{cfg: cfg, proc: proc, store: store, bus: bus, gate: gate, log: log}
}

// SetWatchdog wires the crash watchdog so intentional stops are not
// misdetected as crashes.
func (c *Coordinator) SetWatchdog(wd WatchdogControl) { c.wd = wd }

// Run executes one backup session and optionally archives the result.
func (c *Coordinator) Run(mode Mode, doArchive bool) (Result, error) {
	if err := c.gate.Acquire(session.Backup); err != nil {
		return Result{}, err
	}
	defer c.gate.Release()
	return c.run(mode, doArchive)
}

func (c *Coordinator) run(mode Mode, doArchive bool) (res Result, err error) {
	if c.cfg.StopBeforeBackup {
		mode = FullCopy
	}
	res.Mode = mode
	begin := time.Now()

	c.runShellHook("pre", c.cfg.PreHook)
	c.bus.Emit(hook.BackupBegin, nil)
	c.notify("Backup starting...")
	defer func() {
		res.Duration = time.Since(begin)
		metrics.ObserveBackup(string(mode), err == nil, res.Duration.Seconds())
		c.bus.Emit(hook.BackupEnd, nil)
		c.runShellHook("post", c.cfg.PostHook)
	}()

	switch mode {
	case Incremental:
		err = c.runIncremental(&res)
	case FullCopy:
		err = c.runFull(&res)
	default:
		err = fmt.Errorf("unknown backup mode %q", mode)
	}
	if err != nil {
		c.notify("Backup failed.")
		return res, err
	}

	if doArchive {
		path, aerr := c.store.Archive(c.cfg.DestDir, c.cfg.ArchiveDir, c.cfg.Keep)
		if aerr != nil {
			// Degraded success: the snapshot exists, only archiving failed.
			c.log.Error("archiving failed", "err", aerr)
			res.ArchiveErr = aerr
		} else {
			res.ArchivePath = path
			c.bus.Emit(hook.BackupArchive, path)
		}
	}
	c.notify("Backup finished.")
	return res, nil
}

// runIncremental executes the save hold / query / resume handshake and
// copies the committed byte ranges the server reports. The server keeps
// running throughout.
func (c *Coordinator) runIncremental(res *Result) error {
	if !c.proc.IsRunning() {
		return fmt.Errorf("incremental backup requires a running server")
	}
	world := c.cfg.worldName()

	// Arm the file-list pattern before asking, so the response cannot
	// slip past between send and wait.
	listPattern := regexp.QuoteMeta(world) + `[/\\].+:[0-9]+`
	if err := c.proc.SetWaitPattern(listPattern); err != nil {
		return err
	}
	if err := c.proc.SendCommand("save hold"); err != nil {
		return fmt.Errorf("save hold: %w", err)
	}
	c.bus.Emit(hook.BackupSaveHold, nil)

	// The server answers save query only once the hold window is ready;
	// poll until the manifest line shows up.
	for {
		if !c.proc.IsRunning() {
			return fmt.Errorf("server exited during save hold")
		}
		if err := c.proc.SendCommand("save query"); err != nil {
			return fmt.Errorf("save query: %w", err)
		}
		if c.proc.WaitArmed(c.cfg.queryInterval()) {
			break
		}
	}

	manifest, err := ParseManifest(c.proc.MatchedText(), world)
	if err != nil {
		// Still try to release the hold before giving up.
		c.resume(manifest)
		return err
	}

	tail := c.cfg.metadataTail()
	copied, skipped := c.copyManifest(manifest, tail)
	res.Files, res.Skipped = copied, skipped

	c.reconcileDB()

	if err := c.resume(manifest); err != nil {
		return err
	}
	return nil
}

// resume closes the save window and waits (no deadline) for the server's
// confirmation, then publishes the manifest to subscribers.
func (c *Coordinator) resume(manifest Manifest) error {
	if !c.proc.IsRunning() {
		return fmt.Errorf("server exited before save resume")
	}
	if err := c.proc.SetWaitPattern(c.cfg.resumePattern()); err != nil {
		return err
	}
	if err := c.proc.SendCommand("save resume"); err != nil {
		return fmt.Errorf("save resume: %w", err)
	}
	if !c.proc.WaitArmed(0) {
		return fmt.Errorf("server exited before confirming save resume")
	}
	c.bus.Emit(hook.BackupSaveResume, manifest)
	return nil
}

// copyManifest copies each entry's committed prefix into the snapshot.
// Per-file failures are logged and skipped; the session continues.
func (c *Coordinator) copyManifest(manifest Manifest, tail int) (copied, skipped int) {
	for i, e := range manifest {
		rel := ResolvePath(e.Path, i, len(manifest), tail)
		src := filepath.Join(c.cfg.WorldDir, filepath.FromSlash(rel))
		dst := filepath.Join(c.cfg.DestDir, filepath.FromSlash(rel))
		if err := copyTruncated(src, dst, e.Length); err != nil {
			c.log.Warn("skipping file in backup", "path", rel, "err", err)
			skipped++
			continue
		}
		copied++
	}
	return copied, skipped
}

// reconcileDB deletes snapshot db/ files the server has since compacted
// away. Failures are logged and non-fatal.
func (c *Coordinator) reconcileDB() {
	dstDB := filepath.Join(c.cfg.DestDir, "db")
	srcDB := filepath.Join(c.cfg.WorldDir, "db")
	entries, err := os.ReadDir(dstDB)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("integrity check could not list snapshot db", "err", err)
		}
		return
	}
	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(srcDB, e.Name())); os.IsNotExist(err) {
			stale := filepath.Join(dstDB, e.Name())
			if rmErr := os.RemoveAll(stale); rmErr != nil {
				c.log.Warn("integrity check could not delete stale file", "path", stale, "err", rmErr)
				continue
			}
			c.log.Info("removed stale snapshot file", "path", stale)
		}
	}
}

// runFull stops the server, mirrors the world directory into a cleared
// snapshot, and optionally restarts the server and waits for readiness.
func (c *Coordinator) runFull(res *Result) error {
	return c.fullCopy(res, c.cfg.RestartAfterFull)
}

// fullCopy implements the full-copy protocol. The watchdog is suppressed
// only around the intentional stop and restored to its prior state, never
// forced on. restart=false keeps the server down; Restore uses that so
// the archive is never extracted under a live server.
func (c *Coordinator) fullCopy(res *Result, restart bool) error {
	wasRunning := c.proc.IsRunning()
	wdSuppressed := false
	if wasRunning && c.wd != nil && c.wd.Enabled() {
		c.wd.Disable()
		wdSuppressed = true
	}
	restoreWd := func() {
		if wdSuppressed {
			c.wd.Enable()
		}
	}
	if wasRunning {
		if err := c.proc.SendCommand("stop"); err != nil {
			restoreWd()
			return fmt.Errorf("stop: %w", err)
		}
		if !c.proc.WaitExit(c.cfg.stopTimeout()) {
			restoreWd()
			return fmt.Errorf("server did not stop within %s", c.cfg.stopTimeout())
		}
		c.proc.Close()
	}

	if err := os.RemoveAll(c.cfg.DestDir); err != nil {
		restoreWd()
		return fmt.Errorf("clear snapshot dir: %w", err)
	}
	n, err := mirrorDir(c.cfg.WorldDir, c.cfg.DestDir)
	if err != nil {
		restoreWd()
		return fmt.Errorf("mirror world: %w", err)
	}
	res.Files = n

	if wasRunning && restart {
		if err := c.proc.Start(); err != nil {
			restoreWd()
			return fmt.Errorf("restart after backup: %w", err)
		}
		if c.cfg.ReadyPattern != "" {
			if ok, err := c.proc.WaitForMatch(c.cfg.ReadyPattern, c.cfg.readyTimeout()); err != nil || !ok {
				restoreWd()
				return fmt.Errorf("server not ready after restart (match=%v err=%v)", ok, err)
			}
		}
	}
	restoreWd()
	return nil
}

// Restore replaces the live world with the archive's content. A
// precautionary full backup + archive of the current world runs first so
// the restore itself is undoable.
func (c *Coordinator) Restore(archivePath string) error {
	if err := c.gate.Acquire(session.Backup); err != nil {
		return err
	}
	defer c.gate.Release()

	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("archive not found: %w", err)
	}
	if ext := filepath.Ext(archivePath); ext != ".zip" {
		return fmt.Errorf("not a zip archive: %s", archivePath)
	}

	// The precautionary run must leave the server down even when
	// RestartAfterFull is set; extraction under a live server would
	// corrupt the world. Restart only once the restore is complete.
	wasRunning := c.proc.IsRunning()
	var pre Result
	if err := c.fullCopy(&pre, false); err != nil {
		return fmt.Errorf("precautionary backup: %w", err)
	}
	if _, err := c.store.Archive(c.cfg.DestDir, c.cfg.ArchiveDir, c.cfg.Keep); err != nil {
		return fmt.Errorf("precautionary archive: %w", err)
	}

	if err := os.RemoveAll(c.cfg.WorldDir); err != nil {
		return fmt.Errorf("clear world dir: %w", err)
	}
	if err := c.store.Restore(archivePath, c.cfg.WorldDir); err != nil {
		return err
	}
	metrics.IncRestore()
	c.log.Info("world restored", "archive", archivePath)

	if wasRunning && c.cfg.RestartAfterFull {
		if err := c.proc.Start(); err != nil {
			return fmt.Errorf("restart after restore: %w", err)
		}
		if c.cfg.ReadyPattern != "" {
			if ok, err := c.proc.WaitForMatch(c.cfg.ReadyPattern, c.cfg.readyTimeout()); err != nil || !ok {
				return fmt.Errorf("server not ready after restore (match=%v err=%v)", ok, err)
			}
		}
	}
	return nil
}

// notify pushes a short status line through the server's own chat
// command. Best effort: suppressed when disabled or the server is down.
func (c *Coordinator) notify(msg string) {
	if !c.cfg.Notify || !c.proc.IsRunning() {
		return
	}
	cmd := c.cfg.NotifyCommand
	if cmd == "" {
		cmd = "say"
	}
	if err := c.proc.SendCommand(cmd + " " + msg); err != nil {
		c.log.Debug("notification failed", "err", err)
	}
}

// runShellHook runs an optional operator command. Hook failure is logged
// and never aborts the backup.
func (c *Coordinator) runShellHook(phase, command string) {
	if command == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	// #nosec G204 -- hook commands come from operator configuration
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if out, err := cmd.CombinedOutput(); err != nil {
		c.log.Warn("backup hook failed", "phase", phase, "err", err, "output", string(out))
	}
}
