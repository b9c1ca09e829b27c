// Package task runs a loop body repeatedly on a dedicated goroutine, the way
// a streaming thread drives a source pad.
//
// A task is Started, Paused or Stopped. While started the body is invoked
// back to back; a paused task keeps its goroutine parked on a condition
// variable; a stopped task lets its goroutine exit. The body may pause or
// stop its own task but must never Join it.
package task

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrJoinTimeout is returned when the task goroutine does not exit in time
var ErrJoinTimeout = errors.New("task: join timeout")

// State of a task
type State int

const (
	Stopped State = iota
	Started
	Paused
)

// String returns a human-readable string representation of the state
func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Task owns one goroutine that repeatedly calls a function.
type Task struct {
	name string
	fn   func()
	log  zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	alive bool
	done  chan struct{}
}

// New creates a stopped task that will run fn once started
func New(name string, fn func(), log zerolog.Logger) *Task {
	t := &Task{
		name: name,
		fn:   fn,
		log:  log.With().Str("task", name).Logger(),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// State returns the current state
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins (or resumes) invoking the body.
func (t *Task) Start() {
	t.setState(Started)
}

// Pause parks the goroutine after the current iteration. Pausing a stopped
// task spawns its goroutine in the parked state.
func (t *Task) Pause() {
	t.setState(Paused)
}

// Stop asks the goroutine to exit after the current iteration. It does not
// wait; use Join for that.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Stopped {
		return
	}
	t.state = Stopped
	t.cond.Broadcast()
	t.log.Debug().Msg("task stopping")
}

// Join waits up to timeout for the goroutine to exit. The task must have
// been stopped first. A timeout of zero waits forever.
func (t *Task) Join(timeout time.Duration) error {
	t.mu.Lock()
	if !t.alive {
		t.mu.Unlock()
		return nil
	}
	if t.state != Stopped {
		t.mu.Unlock()
		return fmt.Errorf("task: %s: join on a %s task", t.name, t.state)
	}
	done := t.done
	t.mu.Unlock()

	if timeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		t.log.Warn().Dur("timeout", timeout).Msg("task did not exit in time")
		return fmt.Errorf("%w: %s", ErrJoinTimeout, t.name)
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == s {
		return
	}
	t.state = s
	if !t.alive {
		t.alive = true
		t.done = make(chan struct{})
		go t.run(t.done)
		t.log.Debug().Str("state", s.String()).Msg("task spawned")
		return
	}
	t.cond.Broadcast()
}

func (t *Task) run(done chan struct{}) {
	defer close(done)

	for {
		t.mu.Lock()
		for t.state == Paused {
			t.cond.Wait()
		}
		if t.state == Stopped {
			t.alive = false
			t.mu.Unlock()
			t.log.Debug().Msg("task exited")
			return
		}
		t.mu.Unlock()

		t.fn()
	}
}
