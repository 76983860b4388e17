// Package session serializes the operations that own the server process
// and its world directory. Backup and render sessions are mutually
// exclusive: acquiring the gate while another session holds it fails
// immediately instead of queuing.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBusy is returned when a session is already active.
var ErrBusy = errors.New("another session is already active")

// Kind names the operation holding the gate.
type Kind string

const (
	None   Kind = ""
	Backup Kind = "backup"
	Render Kind = "render"
)

// Gate is the module-wide session lock.
type Gate struct {
	mu     sync.Mutex
	holder Kind
}

func NewGate() *Gate { return &Gate{} }

// Acquire claims the gate for k. It never blocks; a second caller gets
// ErrBusy naming the current holder.
func (g *Gate) Acquire(k Kind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != None {
		return fmt.Errorf("%w: held by %s", ErrBusy, g.holder)
	}
	g.holder = k
	return nil
}

// Release frees the gate. Releasing an idle gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	g.holder = None
	g.mu.Unlock()
}

// Holder reports the kind currently holding the gate.
func (g *Gate) Holder() Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// Busy reports whether any session is active.
func (g *Gate) Busy() bool { return g.Holder() != None }
