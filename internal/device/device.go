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

// Package device defines the minimal port/IRQ contract devices
// register with a Machine (spec.md §6's "I/O ports" paragraph), plus
// one reference implementation (Console). Concrete device models
// beyond the port/IRQ contract are out of scope (spec.md's Non-goals);
// coreforge carries exactly enough to exercise the contract end to
// end, grounded on a UART port struct and Ducky's keyboard device
// (ducky/devices/keyboard.py).
package device

// Port identifies a device register in the 16-bit I/O port space
// (spec.md §6: "a 16-bit port space with privileged/unprivileged
// marking").
type Port uint16

// Device is anything a Machine can map into port space. In and Out
// are called with the privilege state of the accessing core; a device
// that wants a port protected returns an access-violation error itself
// rather than relying on the Machine (which only checks the port is
// mapped at all — spec.md §6's two distinct failure kinds, invalid
// resource vs. access violation, are owned by different layers).
type Device interface {
	Name() string
	Ports() []Port
	In(port Port, privileged bool) (uint8, error)
	Out(port Port, value uint8, privileged bool) error
}

// IRQSource is implemented by devices that raise a hardware interrupt.
// Index is the IVT entry the device fires; Machine wires it to the IRQ
// router at registration time.
type IRQSource interface {
	IRQIndex() uint32
}
