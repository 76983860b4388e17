package hook

import (
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger { return slog.Default() }

func TestEmitInvokesAllInOrder(t *testing.T) {
	b := NewBus(testLogger())
	var order []int
	b.Subscribe(BackupBegin, func(any) { order = append(order, 1) })
	b.Subscribe(BackupBegin, func(any) { order = append(order, 2) })
	b.Subscribe(BackupBegin, func(any) { order = append(order, 3) })
	b.Emit(BackupBegin, nil)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("subscribers not invoked in registration order: %v", order)
	}
}

func TestEmitPassesPayload(t *testing.T) {
	b := NewBus(testLogger())
	var got any
	b.Subscribe(WatchdogCrash, func(p any) { got = p })
	b.Emit(WatchdogCrash, 137)
	if code, ok := got.(int); !ok || code != 137 {
		t.Fatalf("payload not delivered: %v", got)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBus(testLogger())
	var called bool
	b.Subscribe(RenderEnd, func(any) { panic("boom") })
	b.Subscribe(RenderEnd, func(any) { called = true })
	b.Emit(RenderEnd, nil)
	if !called {
		t.Fatalf("second subscriber not invoked after panic in first")
	}
}

func TestEmitWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBus(testLogger())
	b.Emit(BackupEnd, nil) // must not panic
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2", "1.2.0", 0},
		{"v1.3.0", "1.2.9", 1},
		{"0.9.0", "1.0.0", -1},
		{"1.10.0", "1.9.9", 1},
		{"2.0.0-rc1", "2.0.0", 0},
	}
	for _, c := range cases {
		if got := CompareVersions(c.a, c.b); got != c.want {
			t.Fatalf("CompareVersions(%q,%q)=%d want %d", c.a, c.b, got, c.want)
		}
	}
}

type fakeModule struct {
	name     string
	min      string
	initErr  error
	inited   bool
	shutdown bool
}

func (m *fakeModule) Name() string       { return m.name }
func (m *fakeModule) MinVersion() string { return m.min }
func (m *fakeModule) Init(b *Bus) error  { m.inited = true; return m.initErr }
func (m *fakeModule) Shutdown()          { m.shutdown = true }

func TestRegistryVersionGating(t *testing.T) {
	r := NewRegistry("1.2.0", NewBus(testLogger()), testLogger())
	ok := &fakeModule{name: "ok", min: "1.0.0"}
	tooNew := &fakeModule{name: "new", min: "2.0.0"}
	if err := r.Register(ok); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(tooNew); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&fakeModule{name: "ok"}); err == nil {
		t.Fatalf("duplicate name accepted")
	}
	r.InitAll()
	if !ok.inited {
		t.Fatalf("eligible module not initialized")
	}
	if tooNew.inited {
		t.Fatalf("too-new module should have been skipped")
	}
	if got := r.Active(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("active list wrong: %v", got)
	}
	r.ShutdownAll()
	if !ok.shutdown {
		t.Fatalf("shutdown not called")
	}
}
