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

// Package isa defines the instruction encoding (spec.md §4.6) and the
// opcode-to-handler dispatch table the design notes call for: a fixed
// array indexed by opcode, instructions as value types holding bitfield
// views into the 32-bit word.
package isa

// Flags is the six-bit flag register (spec.md §3): P privileged,
// H hwint-allowed, E equal, Z zero, O overflow, S sign.
type Flags struct {
	P bool
	H bool
	E bool
	Z bool
	O bool
	S bool
}
