// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public
// License along with this program. If not, see
// <http://www.gnu.org/licenses/>.

// Package reactor implements the cooperative task scheduler (spec.md
// §4.9): a single-threaded loop over registered tasks (cores, the IRQ
// router, the liveness task, fd-readiness polling), draining an event
// queue between rounds. Grounded on Ducky's reactor, translated from
// its Queue-backed event loop to a channel-backed one.
package reactor

// Task is anything the reactor schedules: a core, the IRQ router, the
// liveness task, or the internal fd-readiness task.
type Task interface {
	Runnable() bool
	Run()
}

// Reactor drives every registered task to completion (no tasks left)
// or forever, for a long-running machine.
type Reactor struct {
	tasks  []Task
	events chan func()
	fds    *fdTask
}

// New creates an empty Reactor. eventCapacity bounds how many pending
// events AddEvent/AddCall can queue without blocking the caller;
// reactor.go's Run always eventually drains them.
func New(eventCapacity int) *Reactor {
	if eventCapacity <= 0 {
		eventCapacity = 64
	}
	r := &Reactor{events: make(chan func(), eventCapacity)}
	r.fds = newFDTask()
	r.AddTask(r.fds)
	return r
}

// AddTask registers t; registration order is the order tasks are
// polled each round (spec.md §4.9: "stable registration order").
func (r *Reactor) AddTask(t Task) {
	r.tasks = append(r.tasks, t)
}

// RemoveTask unregisters t, e.g. when a core halts.
func (r *Reactor) RemoveTask(t Task) {
	for i, existing := range r.tasks {
		if existing == t {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			return
		}
	}
}

// AddEvent enqueues a zero-argument callback to run during the next
// drain phase.
func (r *Reactor) AddEvent(fn func()) {
	r.events <- fn
}

// AddCall schedules fn(args...) as a one-shot event, matching Ducky's
// CallInReactorTask convenience wrapper.
func (r *Reactor) AddCall(fn func(args ...any), args ...any) {
	r.AddEvent(func() { fn(args...) })
}

// AddFd registers fd-readiness polling; poll is called once per round
// the internal fd task runs and must be non-blocking.
func (r *Reactor) AddFd(id int, poll func() (readReady, writeReady, errReady bool), onRead, onWrite, onError func()) {
	r.fds.add(id, poll, onRead, onWrite, onError)
}

// RemoveFd unregisters a previously added fd.
func (r *Reactor) RemoveFd(id int) {
	r.fds.remove(id)
}

// Stop removes every task, causing Run to return on its next check.
func (r *Reactor) Stop() {
	r.tasks = nil
}

// Run implements spec.md §4.9's loop exactly: exit when no tasks
// remain; call every runnable task once per round in registration
// order; if any task ran, drain all immediately-available events
// without blocking; otherwise block for exactly one event.
func (r *Reactor) Run() {
	for {
		if len(r.tasks) == 0 {
			return
		}

		ran := false
		for _, t := range r.tasks {
			if t.Runnable() {
				t.Run()
				ran = true
			}
		}

		if ran {
			r.drainAvailable()
			continue
		}

		select {
		case fn := <-r.events:
			fn()
		}
	}
}

func (r *Reactor) drainAvailable() {
	for {
		select {
		case fn := <-r.events:
			fn()
		default:
			return
		}
	}
}
