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

package isa

// CPU is the surface a handler needs from its owning core. Handlers
// never touch core internals directly (design note: "split into
// upward borrowed handles and downward ownership") — *core.Core
// implements this interface.
type CPU interface {
	Reg(n uint8) uint32
	SetReg(n uint8, v uint32)

	IP() uint32
	SetIP(v uint32)

	Flags() Flags
	SetFlags(Flags)

	Privileged() bool

	ReadU8(addr uint32) (uint8, error)
	ReadU16(addr uint32) (uint16, error)
	ReadU32(addr uint32) (uint32, error)
	WriteU8(addr uint32, v uint8) error
	WriteU16(addr uint32, v uint16) error
	WriteU32(addr uint32, v uint32) error

	// CompareAndSwap implements `cas`: if the word at addr equals
	// expect, writes newVal and reports swapped=true; otherwise
	// reports the word actually found, unmodified.
	CompareAndSwap(addr uint32, expect, newVal uint32) (old uint32, swapped bool, err error)

	Push32(v uint32) error
	Pop32() (uint32, error)

	Halt(exitCode int32)
	Idle()

	// EnterInterrupt and ExitInterrupt implement software `int`/`retint`
	// to a non-virtual index; hardware IRQ entry uses the core's own
	// entry point directly (see internal/core), not this interface.
	EnterInterrupt(index uint32) error
	ExitInterrupt() error

	// CallVirtual runs a registered virtual interrupt's host routine in
	// place; if index doesn't resolve to one it reports handled=false
	// with a nil error, and `int` falls back to EnterInterrupt.
	CallVirtual(index uint32) (bool, error)

	EnablePaging()
	ResetCore()
	ReleasePTEs()

	// PortIn/PortOut implement `in`/`out` against the 16-bit I/O port
	// space (spec.md §6); the core passes its own privilege bit through
	// so the device/Machine layer can tell a protected-port-in-
	// unprivileged-mode AccessViolation from an unmapped-port
	// InvalidResource.
	PortIn(port uint16) (uint8, error)
	PortOut(port uint16, value uint8) error
}
