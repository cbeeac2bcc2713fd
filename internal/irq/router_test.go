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

import (
	"errors"
	"testing"
)

type fakeDeliverer struct {
	delivered []uint32
	failOn    uint32
}

func (d *fakeDeliverer) DeliverHardwareIRQ(index uint32) error {
	d.delivered = append(d.delivered, index)
	if index == d.failOn {
		return errors.New("delivery failed")
	}
	return nil
}

func TestRouterRunnableReflectsQueue(t *testing.T) {
	r := NewRouter(nil, nil)
	if r.Runnable() {
		t.Fatal("a fresh Router should not be runnable")
	}
	r.Enqueue(1)
	if !r.Runnable() {
		t.Fatal("Router should be runnable once an IRQ is queued")
	}
}

func TestRunDrainsEveryQueuedIRQInOrder(t *testing.T) {
	d := &fakeDeliverer{failOn: ^uint32(0)}
	r := NewRouter(d, nil)
	r.Enqueue(3)
	r.Enqueue(1)
	r.Enqueue(2)
	r.Run()

	want := []uint32{3, 1, 2}
	if len(d.delivered) != len(want) {
		t.Fatalf("delivered %v, want %v", d.delivered, want)
	}
	for i, w := range want {
		if d.delivered[i] != w {
			t.Errorf("delivered[%d] = %d, want %d", i, d.delivered[i], w)
		}
	}
	if r.Runnable() {
		t.Error("queue should be empty after Run")
	}
}

func TestRunSkipsDeliveryWhenCore0Nil(t *testing.T) {
	r := NewRouter(nil, nil)
	r.Enqueue(5)
	r.Run() // must not panic, and must drain the queue regardless
	if r.Runnable() {
		t.Error("Run must drain the queue even with no delivery target")
	}
}

func TestRunLogsButDoesNotPanicOnDeliveryError(t *testing.T) {
	d := &fakeDeliverer{failOn: 2}
	r := NewRouter(d, nil)
	r.Enqueue(1)
	r.Enqueue(2)
	r.Enqueue(3)
	r.Run()

	if len(d.delivered) != 3 {
		t.Fatalf("a delivery error must not stop draining the rest of the queue: got %v", d.delivered)
	}
}

func TestSetCore0ReassignsTarget(t *testing.T) {
	r := NewRouter(nil, nil)
	d := &fakeDeliverer{failOn: ^uint32(0)}
	r.SetCore0(d)
	r.Enqueue(9)
	r.Run()
	if len(d.delivered) != 1 || d.delivered[0] != 9 {
		t.Fatalf("SetCore0 did not wire the new delivery target: %v", d.delivered)
	}
}
