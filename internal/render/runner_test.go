package render

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/tilewind/bedrockd/internal/hook"
	"github.com/tilewind/bedrockd/internal/session"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func TestRunSequentialOrder(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	tasks := []Task{
		{Name: "one", Command: "echo one >> " + out},
		{Name: "two", Command: "echo two >> " + out},
	}
	bus := hook.NewBus(slog.Default())
	var indexes []int
	bus.Subscribe(hook.RenderNext, func(p any) { indexes = append(indexes, p.(int)) })
	var begin, end int
	bus.Subscribe(hook.RenderBegin, func(any) { begin++ })
	bus.Subscribe(hook.RenderEnd, func(any) { end++ })

	r := NewRunner(tasks, session.NewGate(), bus, slog.Default())
	if err := r.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil || string(b) != "one\ntwo\n" {
		t.Fatalf("tasks not run in order: %v %q", err, b)
	}
	if len(indexes) != 2 || indexes[0] != 0 || indexes[1] != 1 {
		t.Fatalf("next signals wrong: %v", indexes)
	}
	if begin != 1 || end != 1 {
		t.Fatalf("begin/end signals wrong: %d %d", begin, end)
	}
}

func TestRunRejectedWhileBackupActive(t *testing.T) {
	requireUnix(t)
	gate := session.NewGate()
	if err := gate.Acquire(session.Backup); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r := NewRunner([]Task{{Name: "x", Command: "true"}}, gate, nil, slog.Default())
	if err := r.Run(); err == nil {
		t.Fatalf("run should be rejected while backup holds the gate")
	}
}

func TestAbortKillsCurrentTask(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "second-ran")
	tasks := []Task{
		{Name: "slow", Command: "sleep 30"},
		{Name: "after", Command: "touch " + marker},
	}
	bus := hook.NewBus(slog.Default())
	abortCh := make(chan bool, 1)
	bus.Subscribe(hook.RenderAbort, func(p any) { abortCh <- p.(bool) })

	r := NewRunner(tasks, session.NewGate(), bus, slog.Default())
	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	time.Sleep(200 * time.Millisecond) // let the slow task start
	r.Abort()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("abort did not stop the run")
	}
	select {
	case killed := <-abortCh:
		if !killed {
			t.Fatalf("abort should report killing the running task")
		}
	default:
		t.Fatalf("abort signal not emitted")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("tasks after abort must not run")
	}
}
