// Package render runs the external map-rendering tool chain: a fixed
// task list executed sequentially, mutually exclusive with backups.
package render

import (
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"github.com/tilewind/bedrockd/internal/hook"
	"github.com/tilewind/bedrockd/internal/metrics"
	"github.com/tilewind/bedrockd/internal/session"
)

// Task is one external tool invocation.
type Task struct {
	Name    string `mapstructure:"name"`
	Command string `mapstructure:"command"`
	WorkDir string `mapstructure:"workdir"`
}

// Runner executes tasks one at a time. Abort kills the current task's
// process group; there is no cooperative cancellation.
type Runner struct {
	tasks []Task
	gate  *session.Gate
	bus   *hook.Bus
	log   *slog.Logger

	mu      sync.Mutex
	current *exec.Cmd
	aborted bool
}

func NewRunner(tasks []Task, gate *session.Gate, bus *hook.Bus, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = hook.NewBus(log)
	}
	if gate == nil {
		gate = session.NewGate()
	}
	return &Runner{tasks: tasks, gate: gate, bus: bus, log: log}
}

// Run executes the task list. It fails immediately when a backup session
// holds the gate. A failing task is logged and the remaining tasks still
// run; an abort stops the sequence.
func (r *Runner) Run() error {
	if err := r.gate.Acquire(session.Render); err != nil {
		return err
	}
	defer r.gate.Release()

	r.mu.Lock()
	r.aborted = false
	r.mu.Unlock()

	r.bus.Emit(hook.RenderBegin, nil)
	ok := true
	for i, task := range r.tasks {
		if r.isAborted() {
			ok = false
			break
		}
		r.bus.Emit(hook.RenderNext, i)
		if err := r.runTask(task); err != nil {
			if r.isAborted() {
				ok = false
				break
			}
			r.log.Warn("render task failed", "task", task.Name, "err", err)
			ok = false
		}
	}
	r.bus.Emit(hook.RenderEnd, nil)
	metrics.ObserveRender(ok)
	return nil
}

func (r *Runner) runTask(task Task) error {
	// #nosec G204 -- task commands come from operator configuration
	cmd := exec.Command("/bin/sh", "-c", task.Command)
	if task.WorkDir != "" {
		cmd.Dir = task.WorkDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		return nil
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.current = cmd
	r.mu.Unlock()

	err := cmd.Wait()

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
	return err
}

// Abort force-terminates the current task's process group and stops the
// sequence. Emits the abort signal with whether a task was killed.
func (r *Runner) Abort() {
	r.mu.Lock()
	r.aborted = true
	cmd := r.current
	r.mu.Unlock()

	killed := false
	if cmd != nil && cmd.Process != nil {
		killed = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) == nil
	}
	r.bus.Emit(hook.RenderAbort, killed)
}

func (r *Runner) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}
