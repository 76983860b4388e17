package console

import (
	"bytes"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func testLog() *slog.Logger { return slog.Default() }

// syncBuffer is a goroutine-safe bytes.Buffer for echo/capture sinks.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStartEchoAndIgnore(t *testing.T) {
	requireUnix(t)
	echo := &syncBuffer{}
	capture := &syncBuffer{}
	s := New(Spec{Name: "srv", Command: "echo visible; echo NOISE spam; echo done"},
		testLog(), WithEcho(echo), WithCapture(capture))
	if err := s.AddIgnorePattern(`NOISE`); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.WaitExit(2 * time.Second) {
		t.Fatalf("process did not exit")
	}
	// Give the reader a moment to flush the last buffered line.
	time.Sleep(50 * time.Millisecond)
	out := echo.String()
	if !strings.Contains(out, "visible") || !strings.Contains(out, "done") {
		t.Fatalf("echo missing lines: %q", out)
	}
	if strings.Contains(out, "NOISE") {
		t.Fatalf("ignored line echoed: %q", out)
	}
	if !strings.Contains(capture.String(), "NOISE") {
		t.Fatalf("capture should keep ignored lines: %q", capture.String())
	}
}

func TestLaunchFailure(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "bad", Command: "true", WorkDir: "/definitely/not/a/dir"}, testLog())
	if err := s.Start(); err == nil {
		t.Fatalf("expected launch failure for bad workdir")
	}
}

func TestWaitForMatchReturnsEarly(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "sleep 0.1; echo server started; sleep 5"}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { s.Kill(); s.WaitExit(2 * time.Second); s.Close() }()

	begin := time.Now()
	ok, err := s.WaitForMatch(`server started`, 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("wait did not return early: %v", elapsed)
	}
	if got := s.MatchedText(); !strings.Contains(got, "server started") {
		t.Fatalf("matched text = %q", got)
	}
}

func TestWaitForMatchTimesOut(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "sleep 5"}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { s.Kill(); s.WaitExit(2 * time.Second); s.Close() }()

	ok, err := s.WaitForMatch(`never appears`, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ok {
		t.Fatalf("expected timeout, got match")
	}
}

func TestWaitUnblocksOnExit(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "sleep 0.1"}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan bool, 1)
	go func() {
		ok, _ := s.WaitForMatch(`never`, 0) // no deadline
		done <- ok
	}()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("match reported on plain exit")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no-deadline wait hung after process exit")
	}
}

func TestWaitArmedSeesLinePrintedBeforeExit(t *testing.T) {
	requireUnix(t)
	// The match line and the exit race: the child exits right after
	// printing, so the wait must let the reader drain the pipe before
	// concluding the line never arrived.
	for i := 0; i < 20; i++ {
		s := New(Spec{Name: "srv", Command: "echo ready"}, testLog())
		if err := s.SetWaitPattern(`ready`); err != nil {
			t.Fatalf("arm: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		if !s.WaitArmed(2 * time.Second) {
			t.Fatalf("iteration %d: line printed before exit not matched", i)
		}
		s.Close()
	}
}

func TestSendCommandRoundTrip(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "cat", Command: "cat"}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { s.Kill(); s.WaitExit(2 * time.Second); s.Close() }()

	if err := s.SetWaitPattern(`pong-42`); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := s.SendCommand("pong-42"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !s.WaitArmed(2 * time.Second) {
		t.Fatalf("echoed command not matched")
	}
}

func TestSendCommandWhenNotRunning(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "true"}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.WaitExit(2 * time.Second)
	if err := s.SendCommand("stop"); err == nil {
		t.Fatalf("expected error sending to exited process")
	}
}

func TestHandlersFireInRegistrationOrder(t *testing.T) {
	requireUnix(t)
	var mu sync.Mutex
	var seen []string
	s := New(Spec{Name: "srv", Command: "echo player joined"}, testLog())
	_ = s.RegisterHandler(`joined`, func(string) { mu.Lock(); seen = append(seen, "a"); mu.Unlock() })
	_ = s.RegisterHandler(`joined`, func(string) { mu.Lock(); seen = append(seen, "b"); mu.Unlock() })
	_ = s.RegisterHandler(`player`, func(string) { mu.Lock(); seen = append(seen, "c"); mu.Unlock() })
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.WaitExit(2 * time.Second)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("handler order wrong: %v", seen)
	}
}

func TestOneShotDisarmsAfterMatch(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "echo tick one; echo tick two"}, testLog())
	if err := s.SetWaitPattern(`tick`); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.WaitArmed(2 * time.Second) {
		t.Fatalf("no match")
	}
	s.WaitExit(2 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := s.MatchedText(); !strings.Contains(got, "tick one") {
		t.Fatalf("one-shot should capture the first matching line, got %q", got)
	}
}

func TestExitHandlerReceivesCode(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "exit 3"}, testLog())
	ch := make(chan int, 1)
	s.RegisterExitHandler(func(code int) { ch <- code })
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case code := <-ch:
		if code != 3 {
			t.Fatalf("exit code = %d, want 3", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("exit handler not invoked")
	}
	if s.IsRunning() {
		t.Fatalf("IsRunning true after exit")
	}
	s.Close() // must be safe after unexpected exit
}

func TestRestartAfterExit(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "srv", Command: "exit 1"}, testLog())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.WaitExit(2 * time.Second)
	s.Close()
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.WaitExit(2 * time.Second)
}
