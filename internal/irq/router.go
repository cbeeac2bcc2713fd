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

package irq

import "log/slog"

// Deliverer is core 0's hardware-IRQ entry point (spec.md §4.8: "the
// task drains the queue, delivering each IRQ to core 0 via the core's
// entry procedure").
type Deliverer interface {
	DeliverHardwareIRQ(index uint32) error
}

// Router is the reactor task that drains hardware-interrupt requests
// into core 0. Devices enqueue on it from their I/O-ready callbacks;
// the reactor calls Run between core steps, never mid-step, so
// delivery is serialized per spec.md §5.
type Router struct {
	queue []uint32
	core0 Deliverer
	log   *slog.Logger
}

// NewRouter creates a Router delivering to core0.
func NewRouter(core0 Deliverer, log *slog.Logger) *Router {
	return &Router{core0: core0, log: log}
}

// SetCore0 assigns (or reassigns) the delivery target. Machine
// construction creates the Router before any core exists, then calls
// this once the first CPU is registered.
func (r *Router) SetCore0(core0 Deliverer) {
	r.core0 = core0
}

// Enqueue is called by a device's IRQ source on a hardware event.
func (r *Router) Enqueue(index uint32) {
	r.queue = append(r.queue, index)
}

// Runnable implements reactor.Task.
func (r *Router) Runnable() bool { return len(r.queue) > 0 }

// Run implements reactor.Task: drains every queued IRQ this round.
// A delivery error (e.g. an out-of-range index) is logged and does not
// halt the machine (spec.md §7: "errors in device callbacks log and
// reset the device's input, but do not halt the machine" — the router
// applies the same policy to a bad index arriving from any source).
func (r *Router) Run() {
	for len(r.queue) > 0 {
		idx := r.queue[0]
		r.queue = r.queue[1:]
		if r.core0 == nil {
			continue
		}
		if err := r.core0.DeliverHardwareIRQ(idx); err != nil && r.log != nil {
			r.log.Error("hardware IRQ delivery failed", "irq", idx, "error", err)
		}
	}
}
