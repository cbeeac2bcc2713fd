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

// Package vmerr defines the error kinds the core execution engine can
// raise. Each kind is a distinct type so callers can discriminate with
// errors.As instead of matching on message text.
package vmerr

import "fmt"

// AccessViolation covers permission denials, unaligned access when
// enforcement is on, a privileged instruction in unprivileged mode, and
// a protected port accessed in unprivileged mode.
type AccessViolation struct {
	Message string
	IP      uint32
}

func (e *AccessViolation) Error() string {
	return fmt.Sprintf("access violation at ip=0x%08X: %s", e.IP, e.Message)
}

// InvalidResource covers an unmapped port, an IRQ index out of range,
// or a missing storage id.
type InvalidResource struct {
	Message string
	IP      uint32
}

func (e *InvalidResource) Error() string {
	return fmt.Sprintf("invalid resource at ip=0x%08X: %s", e.IP, e.Message)
}

// InvalidOpcode is raised when the decoder cannot map an opcode to an
// instruction.
type InvalidOpcode struct {
	Opcode uint32
	IP     uint32
}

func (e *InvalidOpcode) Error() string {
	return fmt.Sprintf("invalid opcode 0x%02X at ip=0x%08X", e.Opcode, e.IP)
}

// UnalignedJumpTarget is raised by the assembler when encoding a branch
// whose immediate offset is not a multiple of 4 bytes. The core itself
// never raises it; it is carried here because the decoder and the
// assembler share the same instruction-encoding contract.
type UnalignedJumpTarget struct {
	Offset int32
}

func (e *UnalignedJumpTarget) Error() string {
	return fmt.Sprintf("branch offset %d is not a multiple of 4", e.Offset)
}

// DivisionByZero is raised by div, udiv and mod when the divisor is 0.
type DivisionByZero struct {
	IP uint32
}

func (e *DivisionByZero) Error() string {
	return fmt.Sprintf("division by zero at ip=0x%08X", e.IP)
}

// MalformedBinary is the object loader's error kind; the loader is not
// part of coreforge, and nothing here (including boot image loading)
// raises it.
type MalformedBinary struct {
	Message string
}

func (e *MalformedBinary) Error() string {
	return fmt.Sprintf("malformed binary: %s", e.Message)
}

// ResourceExhausted is raised when a page or segment pool is exhausted.
// spec.md §4.1 groups this with access violations at the memory
// controller layer, but it carries no ip (it can be raised outside any
// core's execution, e.g. from AllocPages), so it is kept as its own kind.
type ResourceExhausted struct {
	Message string
}

func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("resource exhausted: %s", e.Message)
}
