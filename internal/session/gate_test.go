package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestGateMutualExclusion(t *testing.T) {
	g := NewGate()
	if err := g.Acquire(Backup); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	err := g.Acquire(Render)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !strings.Contains(err.Error(), string(Backup)) {
		t.Fatalf("error should name the holder: %v", err)
	}
	if g.Holder() != Backup {
		t.Fatalf("holder = %q, want backup", g.Holder())
	}
	g.Release()
	if g.Busy() {
		t.Fatalf("gate still busy after release")
	}
	if err := g.Acquire(Render); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestGateConcurrentAcquire(t *testing.T) {
	g := NewGate()
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire(Backup) == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("exactly one goroutine should win the gate, got %d", won)
	}
}
