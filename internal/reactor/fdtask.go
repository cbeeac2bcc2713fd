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

package reactor

// fdCallbacks bundles one fd's non-blocking poll function with the
// reactor callbacks it fires. Poll must not block; it is invoked from
// the reactor's own goroutine once per round.
type fdCallbacks struct {
	poll    func() (readReady, writeReady, errReady bool)
	onRead  func()
	onWrite func()
	onError func()
}

// fdTask is the single internal task that surfaces fd readiness
// (spec.md §4.9's supplemented I/O-integration note): it polls every
// registered fd each round it runs and dispatches the matching
// callback. An error reading readiness suppresses the read/write
// callbacks for that round, matching Ducky's select-loop behavior.
type fdTask struct {
	order []int
	fds   map[int]fdCallbacks
}

func newFDTask() *fdTask {
	return &fdTask{fds: make(map[int]fdCallbacks)}
}

func (t *fdTask) add(id int, poll func() (bool, bool, bool), onRead, onWrite, onError func()) {
	if _, exists := t.fds[id]; !exists {
		t.order = append(t.order, id)
	}
	t.fds[id] = fdCallbacks{poll: poll, onRead: onRead, onWrite: onWrite, onError: onError}
}

func (t *fdTask) remove(id int) {
	if _, exists := t.fds[id]; !exists {
		return
	}
	delete(t.fds, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Runnable implements reactor.Task: only worth a round if there's
// something registered to poll.
func (t *fdTask) Runnable() bool {
	return len(t.order) > 0
}

// Run implements reactor.Task.
func (t *fdTask) Run() {
	for _, id := range t.order {
		cb, ok := t.fds[id]
		if !ok {
			continue
		}
		readReady, writeReady, errReady := cb.poll()
		if errReady {
			if cb.onError != nil {
				cb.onError()
			}
			continue
		}
		if readReady && cb.onRead != nil {
			cb.onRead()
		}
		if writeReady && cb.onWrite != nil {
			cb.onWrite()
		}
	}
}
