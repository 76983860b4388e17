package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"
)

// ErrNotRunning is returned by operations that need a live child process.
var ErrNotRunning = errors.New("server process is not running")

// Spec describes the supervised server process.
type Spec struct {
	Name    string
	Command string // shell command line, run via /bin/sh -c
	WorkDir string
	Env     []string
}

// Status is a point-in-time snapshot of the supervised process.
type Status struct {
	Name      string
	Running   bool
	PID       int
	StartedAt time.Time
	StoppedAt time.Time
	ExitCode  int
	LastLine  string
}

type handlerEntry struct {
	raw string
	re  *regexp.Regexp
	fns []func(line string)
}

// Supervisor owns the single child server process. One reader goroutine
// drains the merged stdout/stderr stream and runs each line through the
// match pipeline: the armed one-shot pattern first, then every persistent
// handler in registration order, then the console echo unless an ignore
// pattern matches. Persistent handlers run on the reader goroutine and
// must not block, or they stall match detection for everyone.
type Supervisor struct {
	spec    Spec
	log     *slog.Logger
	echo    io.Writer // operator-visible console; ignore patterns apply
	capture io.Writer // raw capture (e.g. rotating log); sees every line

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	outW       *io.PipeWriter
	running    bool
	status     Status
	exited     chan struct{} // closed when the current run's Wait returns
	readerDone chan struct{} // closed when the reader drains the current run's pipe

	// one-shot wait state; at most one armed at a time
	waitRe      *regexp.Regexp
	waitMatched bool
	waitText    string
	waitDone    chan struct{}

	handlers  []*handlerEntry
	byPattern map[string]*handlerEntry
	ignore    []*regexp.Regexp
	exitFns   []func(code int)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEcho sets the operator-visible console writer.
func WithEcho(w io.Writer) Option { return func(s *Supervisor) { s.echo = w } }

// WithCapture sets a writer receiving every raw line (no ignore filtering).
func WithCapture(w io.Writer) Option { return func(s *Supervisor) { s.capture = w } }

func New(spec Spec, log *slog.Logger, opts ...Option) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		spec:      spec,
		log:       log,
		byPattern: make(map[string]*handlerEntry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the child with redirected stdin and a merged
// stdout/stderr stream, then begins asynchronous line reading.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("process %q already running", s.spec.Name)
	}

	// #nosec G204 -- command comes from operator configuration
	cmd := exec.Command("/bin/sh", "-c", s.spec.Command)
	if s.spec.WorkDir != "" {
		cmd.Dir = s.spec.WorkDir
	}
	if len(s.spec.Env) > 0 {
		cmd.Env = s.spec.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("launch %q: %w", s.spec.Name, err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = pw.Close()
		return fmt.Errorf("launch %q: %w", s.spec.Name, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.outW = pw
	s.running = true
	s.exited = make(chan struct{})
	s.readerDone = make(chan struct{})
	s.status = Status{Name: s.spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}

	go s.readLines(pr, s.readerDone)
	go s.monitor(cmd, pw)
	return nil
}

// monitor reaps the child and surfaces the exit to registered callbacks.
func (s *Supervisor) monitor(cmd *exec.Cmd, pw *io.PipeWriter) {
	err := cmd.Wait()
	_ = pw.Close()

	code := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.StoppedAt = time.Now()
	s.status.ExitCode = code
	exited := s.exited
	fns := append([]func(int){}, s.exitFns...)
	s.mu.Unlock()

	if exited != nil {
		close(exited)
	}
	s.log.Info("server process exited", "name", s.spec.Name, "code", code)
	for _, fn := range fns {
		fn(code)
	}
}

func (s *Supervisor) readLines(r io.Reader, done chan struct{}) {
	defer close(done)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.processLine(sc.Text())
	}
}

// processLine runs the per-line pipeline. Each line is handled exactly
// once, in this order: one-shot wait, persistent handlers, console echo.
func (s *Supervisor) processLine(line string) {
	s.mu.Lock()
	s.status.LastLine = line

	if s.waitRe != nil && !s.waitMatched && s.waitRe.MatchString(line) {
		s.waitMatched = true
		s.waitText = line
		s.waitRe = nil // disarm
		if s.waitDone != nil {
			close(s.waitDone)
		}
	}

	var fns []func(string)
	for _, h := range s.handlers {
		if h.re.MatchString(line) {
			fns = append(fns, h.fns...)
		}
	}
	ignored := false
	for _, re := range s.ignore {
		if re.MatchString(line) {
			ignored = true
			break
		}
	}
	echo, capture := s.echo, s.capture
	s.mu.Unlock()

	for _, fn := range fns {
		fn(line)
	}
	if capture != nil {
		_, _ = fmt.Fprintln(capture, line)
	}
	if echo != nil && !ignored {
		_, _ = fmt.Fprintln(echo, line)
	}
}

// SendCommand writes text plus a newline to the child's stdin.
func (s *Supervisor) SendCommand(text string) error {
	s.mu.Lock()
	stdin := s.stdin
	running := s.running
	s.mu.Unlock()
	if !running || stdin == nil {
		return ErrNotRunning
	}
	_, err := fmt.Fprintln(stdin, text)
	return err
}

// IsRunning reports whether the child has not yet exited.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetWaitPattern arms the one-shot match for pattern, clearing any
// previous armed pattern and its matched state. Only one wait may be
// armed at a time; arming again overwrites, it never queues.
func (s *Supervisor) SetWaitPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("wait pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	s.waitRe = re
	s.waitMatched = false
	s.waitText = ""
	s.waitDone = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// WaitArmed blocks until the armed pattern matches or timeout elapses.
// timeout <= 0 waits without a deadline. Returns whether a match occurred.
// The rendezvous is channel-based; there is no polling. A process exit
// unblocks the wait so a no-deadline wait cannot hang on a dead child.
func (s *Supervisor) WaitArmed(timeout time.Duration) bool {
	s.mu.Lock()
	matched := s.waitMatched
	done := s.waitDone
	exited := s.exited
	readerDone := s.readerDone
	s.mu.Unlock()
	if matched {
		return true
	}
	if done == nil {
		return false
	}
	if exited == nil {
		exited = make(chan struct{}) // never started; rely on done/timeout only
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}
	select {
	case <-done:
		return true
	case <-exited:
		// The pipe may still hold lines emitted before the exit; let
		// the reader finish draining before the final matched check.
		if readerDone != nil {
			<-readerDone
		}
		s.mu.Lock()
		m := s.waitMatched
		s.mu.Unlock()
		return m
	case <-deadline:
		return false
	}
}

// WaitForMatch arms pattern and blocks until it matches or timeout
// elapses (timeout <= 0 means no deadline).
func (s *Supervisor) WaitForMatch(pattern string, timeout time.Duration) (bool, error) {
	if err := s.SetWaitPattern(pattern); err != nil {
		return false, err
	}
	return s.WaitArmed(timeout), nil
}

// MatchedText returns the line that satisfied the most recent armed pattern.
func (s *Supervisor) MatchedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitText
}

// RegisterHandler appends callback to the persistent handler list for
// pattern. All callbacks whose pattern matches a line fire, in
// registration order, for every matching line.
func (s *Supervisor) RegisterHandler(pattern string, callback func(line string)) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("handler pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.byPattern[pattern]; ok {
		h.fns = append(h.fns, callback)
		return nil
	}
	h := &handlerEntry{raw: pattern, re: re, fns: []func(string){callback}}
	s.byPattern[pattern] = h
	s.handlers = append(s.handlers, h)
	return nil
}

// AddIgnorePattern suppresses console echo for matching lines. Ignored
// lines still pass through wait and handler evaluation.
func (s *Supervisor) AddIgnorePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("ignore pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	s.ignore = append(s.ignore, re)
	s.mu.Unlock()
	return nil
}

// RegisterExitHandler adds a callback invoked with the exit code every
// time the child exits, cleanly or not.
func (s *Supervisor) RegisterExitHandler(fn func(code int)) {
	s.mu.Lock()
	s.exitFns = append(s.exitFns, fn)
	s.mu.Unlock()
}

// WaitExit blocks until the current run exits or timeout elapses
// (timeout <= 0 waits without a deadline). Returns true once exited.
func (s *Supervisor) WaitExit(timeout time.Duration) bool {
	s.mu.Lock()
	running := s.running
	exited := s.exited
	s.mu.Unlock()
	if !running || exited == nil {
		return true
	}
	if timeout <= 0 {
		<-exited
		return true
	}
	select {
	case <-exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops the async reader and releases the child process handle.
// It never kills the child; safe to call after an unexpected exit.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.outW != nil {
		_ = s.outW.Close()
		s.outW = nil
	}
	s.cmd = nil
	s.mu.Unlock()
}

// Kill force-terminates the child's process group. Used for abort paths
// where no cooperative cancellation exists.
func (s *Supervisor) Kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// Snapshot returns a copy of the current status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Name returns the configured process name.
func (s *Supervisor) Name() string { return s.spec.Name }
