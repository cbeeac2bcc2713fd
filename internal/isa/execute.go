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

import (
	"fmt"
	"math"

	"coreforge/internal/vmerr"
)

// handler executes one decoded instruction. pc is the address the
// instruction was fetched from, *before* the default ip+4 advance the
// core already applied — branch/call targets are computed from pc, not
// from cpu.IP(), matching the worked examples in spec.md §8.
type handler func(cpu CPU, in Instruction, pc uint32) error

var handlers [opcodeCount]handler

func init() {
	handlers[OpNop] = execNop
	handlers[OpHlt] = execHlt
	handlers[OpIdle] = execIdle
	handlers[OpCli] = execCli
	handlers[OpSti] = execSti
	handlers[OpLpm] = execLpm
	handlers[OpRst] = execRst
	handlers[OpRet] = execRet
	handlers[OpRetint] = execRetint
	handlers[OpCall] = execCall
	handlers[OpJ] = execJ
	handlers[OpJr] = execJr
	handlers[OpInt] = execInt
	handlers[OpRpt] = execRpt

	handlers[OpAdd] = execAdd
	handlers[OpSub] = execSub
	handlers[OpMul] = execMul
	handlers[OpDiv] = execDiv
	handlers[OpUdiv] = execUdiv
	handlers[OpMod] = execMod
	handlers[OpInc] = execInc
	handlers[OpDec] = execDec
	handlers[OpAnd] = execAnd
	handlers[OpOr] = execOr
	handlers[OpXor] = execXor
	handlers[OpNot] = execNot
	handlers[OpShiftl] = execShiftl
	handlers[OpShiftr] = execShiftr

	handlers[OpCmp] = execCmp
	handlers[OpCmpu] = execCmpu

	for op, c := range setConditions {
		cc := c
		handlers[op] = func(cpu CPU, in Instruction, pc uint32) error {
			v := uint32(0)
			if evaluate(cc, cpu.Flags()) {
				v = 1
			}
			cpu.SetReg(in.Rd, v)
			return nil
		}
	}

	handlers[OpMov] = execMov
	handlers[OpLi] = execLi
	handlers[OpLiu] = execLiu
	handlers[OpLa] = execLi
	handlers[OpSwp] = execSwp

	handlers[OpLw] = execLw
	handlers[OpLs] = execLs
	handlers[OpLb] = execLb
	handlers[OpStw] = execStw
	handlers[OpSts] = execSts
	handlers[OpStb] = execStb

	handlers[OpCas] = execCas

	handlers[OpIn] = execIn
	handlers[OpOut] = execOut

	for op, c := range branchConditions {
		cc := c
		handlers[op] = func(cpu CPU, in Instruction, pc uint32) error {
			if evaluate(cc, cpu.Flags()) {
				cpu.SetIP(uint32(int64(pc) + int64(in.Imm25)*4))
			}
			return nil
		}
	}
}

// Execute decodes-independent dispatch: the core has already decoded
// (or fetched a decoded entry from the instruction cache) and calls
// this with the result.
func Execute(cpu CPU, in Instruction, pc uint32) error {
	h := handlers[in.Opcode]
	if h == nil {
		return &vmerr.InvalidOpcode{Opcode: uint32(in.Opcode), IP: pc}
	}
	return h(cpu, in, pc)
}

func requirePrivileged(cpu CPU, in Instruction, pc uint32) error {
	if !cpu.Privileged() {
		return &vmerr.AccessViolation{
			Message: fmt.Sprintf("%s requires privileged mode", in.Opcode),
			IP:      pc,
		}
	}
	return nil
}

func execNop(cpu CPU, in Instruction, pc uint32) error { return nil }

func execHlt(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	cpu.Halt(in.Imm20)
	return nil
}

func execIdle(cpu CPU, in Instruction, pc uint32) error {
	cpu.Idle()
	return nil
}

func execCli(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	f := cpu.Flags()
	f.H = false
	cpu.SetFlags(f)
	return nil
}

func execSti(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	f := cpu.Flags()
	f.H = true
	cpu.SetFlags(f)
	return nil
}

func execLpm(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	cpu.EnablePaging()
	return nil
}

func execRst(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	cpu.ResetCore()
	return nil
}

func execRpt(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	cpu.ReleasePTEs()
	return nil
}

func execRet(cpu CPU, in Instruction, pc uint32) error {
	fp, err := cpu.Pop32()
	if err != nil {
		return err
	}
	ip, err := cpu.Pop32()
	if err != nil {
		return err
	}
	cpu.SetReg(30, fp)
	cpu.SetIP(ip)
	return nil
}

func execRetint(cpu CPU, in Instruction, pc uint32) error {
	if err := requirePrivileged(cpu, in, pc); err != nil {
		return err
	}
	return cpu.ExitInterrupt()
}

// jumpTarget reconstructs the 25-bit absolute word address `call`/`j`
// encode, distinct from branches' pc-relative Imm25: both share
// FormatJ25, but these two treat the field as an unsigned absolute
// address (scaled by 4) while branches treat it as a signed pc-relative
// offset, matching spec.md §8 scenario 4's literal target address.
func jumpTarget(in Instruction) uint32 {
	return ((in.Raw >> 7) & 0x1FFFFFF) << 2
}

func execCall(cpu CPU, in Instruction, pc uint32) error {
	if err := cpu.Push32(cpu.IP()); err != nil {
		return err
	}
	if err := cpu.Push32(cpu.Reg(30)); err != nil {
		return err
	}
	cpu.SetReg(30, cpu.Reg(31))
	cpu.SetIP(jumpTarget(in))
	return nil
}

func execJ(cpu CPU, in Instruction, pc uint32) error {
	cpu.SetIP(jumpTarget(in))
	return nil
}

func execJr(cpu CPU, in Instruction, pc uint32) error {
	cpu.SetIP(cpu.Reg(in.Rd))
	return nil
}

func execInt(cpu CPU, in Instruction, pc uint32) error {
	idx := uint32(in.Imm20)
	handled, err := cpu.CallVirtual(idx)
	if err != nil || handled {
		return err
	}
	return cpu.EnterInterrupt(idx)
}

func addFlags(a, b uint32) (uint32, Flags) {
	sum := uint64(a) + uint64(b)
	result := uint32(sum)
	return result, Flags{
		Z: result == 0,
		O: sum >= 1<<32,
		S: result&0x80000000 != 0,
	}
}

func execAdd(cpu CPU, in Instruction, pc uint32) error {
	result, f := addFlags(cpu.Reg(in.Ra), cpu.Reg(in.Rb))
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(f)
	return nil
}

func execSub(cpu CPU, in Instruction, pc uint32) error {
	a, b := cpu.Reg(in.Ra), cpu.Reg(in.Rb)
	result := a - b
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(Flags{
		Z: result == 0,
		O: a < b, // unsigned borrow
		S: result&0x80000000 != 0,
	})
	return nil
}

func execMul(cpu CPU, in Instruction, pc uint32) error {
	a, b := cpu.Reg(in.Ra), cpu.Reg(in.Rb)
	product := uint64(a) * uint64(b)
	result := uint32(product)
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(Flags{
		Z: result == 0,
		O: product>>32 != 0,
		S: result&0x80000000 != 0,
	})
	return nil
}

func execDiv(cpu CPU, in Instruction, pc uint32) error {
	a, b := int32(cpu.Reg(in.Ra)), int32(cpu.Reg(in.Rb))
	if b == 0 {
		return &vmerr.DivisionByZero{IP: pc}
	}
	overflow := a == math.MinInt32 && b == -1
	var result int32
	if overflow {
		result = math.MinInt32 // wrapped two's-complement result; see DESIGN.md Open Question 1
	} else {
		result = a / b
	}
	u := uint32(result)
	cpu.SetReg(in.Rd, u)
	cpu.SetFlags(Flags{Z: u == 0, O: overflow, S: u&0x80000000 != 0})
	return nil
}

func execUdiv(cpu CPU, in Instruction, pc uint32) error {
	a, b := cpu.Reg(in.Ra), cpu.Reg(in.Rb)
	if b == 0 {
		return &vmerr.DivisionByZero{IP: pc}
	}
	result := a / b
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(Flags{Z: result == 0, S: result&0x80000000 != 0})
	return nil
}

func execMod(cpu CPU, in Instruction, pc uint32) error {
	a, b := int32(cpu.Reg(in.Ra)), int32(cpu.Reg(in.Rb))
	if b == 0 {
		return &vmerr.DivisionByZero{IP: pc}
	}
	var result int32
	if a == math.MinInt32 && b == -1 {
		result = 0
	} else {
		result = a % b
	}
	u := uint32(result)
	cpu.SetReg(in.Rd, u)
	cpu.SetFlags(Flags{Z: u == 0, S: u&0x80000000 != 0})
	return nil
}

func execInc(cpu CPU, in Instruction, pc uint32) error {
	result, f := addFlags(cpu.Reg(in.Rd), 1)
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(f)
	return nil
}

func execDec(cpu CPU, in Instruction, pc uint32) error {
	a := cpu.Reg(in.Rd)
	result := a - 1
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(Flags{Z: result == 0, O: a == 0, S: result&0x80000000 != 0})
	return nil
}

func bitwise(cpu CPU, in Instruction, f func(a, b uint32) uint32) error {
	result := f(cpu.Reg(in.Ra), cpu.Reg(in.Rb))
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(Flags{Z: result == 0, S: result&0x80000000 != 0})
	return nil
}

func execAnd(cpu CPU, in Instruction, pc uint32) error {
	return bitwise(cpu, in, func(a, b uint32) uint32 { return a & b })
}
func execOr(cpu CPU, in Instruction, pc uint32) error {
	return bitwise(cpu, in, func(a, b uint32) uint32 { return a | b })
}
func execXor(cpu CPU, in Instruction, pc uint32) error {
	return bitwise(cpu, in, func(a, b uint32) uint32 { return a ^ b })
}

func execNot(cpu CPU, in Instruction, pc uint32) error {
	result := ^cpu.Reg(in.Ra)
	cpu.SetReg(in.Rd, result)
	cpu.SetFlags(Flags{Z: result == 0, S: result&0x80000000 != 0})
	return nil
}

// execShiftl/execShiftr rely on Go's own shift semantics for counts >=
// 32 (they yield 0, never UB) per DESIGN.md's Open Question 1 decision.
func execShiftl(cpu CPU, in Instruction, pc uint32) error {
	return bitwise(cpu, in, func(a, b uint32) uint32 { return a << b })
}
func execShiftr(cpu CPU, in Instruction, pc uint32) error {
	return bitwise(cpu, in, func(a, b uint32) uint32 { return a >> b })
}

func execCmp(cpu CPU, in Instruction, pc uint32) error {
	a, b := int32(cpu.Reg(in.Ra)), int32(cpu.Reg(in.Rb))
	diff := a - b
	sameSign := (a < 0) == (b < 0)
	overflow := !sameSign && (diff < 0) != (a < 0)
	cpu.SetFlags(Flags{
		E: a == b,
		Z: diff == 0,
		S: a < b,
		O: overflow,
	})
	return nil
}

func execCmpu(cpu CPU, in Instruction, pc uint32) error {
	a, b := cpu.Reg(in.Ra), cpu.Reg(in.Rb)
	cpu.SetFlags(Flags{E: a == b, Z: a-b == 0, S: a < b})
	return nil
}

func execMov(cpu CPU, in Instruction, pc uint32) error {
	cpu.SetReg(in.Rd, cpu.Reg(in.Ra))
	return nil
}

func execLi(cpu CPU, in Instruction, pc uint32) error {
	cpu.SetReg(in.Rd, uint32(in.Imm20))
	return nil
}

func execLiu(cpu CPU, in Instruction, pc uint32) error {
	unsigned20 := (in.Raw >> 12) & 0xFFFFF
	cpu.SetReg(in.Rd, unsigned20<<12)
	return nil
}

func execSwp(cpu CPU, in Instruction, pc uint32) error {
	a, b := cpu.Reg(in.Rd), cpu.Reg(in.Ra)
	cpu.SetReg(in.Rd, b)
	cpu.SetReg(in.Ra, a)
	return nil
}

func effectiveAddr(cpu CPU, in Instruction) uint32 {
	return cpu.Reg(in.Ra) + uint32(in.Imm15)
}

func execLw(cpu CPU, in Instruction, pc uint32) error {
	v, err := cpu.ReadU32(effectiveAddr(cpu, in))
	if err != nil {
		return err
	}
	cpu.SetReg(in.Rd, v)
	return nil
}

func execLs(cpu CPU, in Instruction, pc uint32) error {
	v, err := cpu.ReadU16(effectiveAddr(cpu, in))
	if err != nil {
		return err
	}
	cpu.SetReg(in.Rd, uint32(int32(int16(v))))
	return nil
}

func execLb(cpu CPU, in Instruction, pc uint32) error {
	v, err := cpu.ReadU8(effectiveAddr(cpu, in))
	if err != nil {
		return err
	}
	cpu.SetReg(in.Rd, uint32(v))
	return nil
}

func execStw(cpu CPU, in Instruction, pc uint32) error {
	return cpu.WriteU32(effectiveAddr(cpu, in), cpu.Reg(in.Rd))
}

func execSts(cpu CPU, in Instruction, pc uint32) error {
	return cpu.WriteU16(effectiveAddr(cpu, in), uint16(cpu.Reg(in.Rd)))
}

func execStb(cpu CPU, in Instruction, pc uint32) error {
	return cpu.WriteU8(effectiveAddr(cpu, in), uint8(cpu.Reg(in.Rd)))
}

// execCas implements `cas addrReg, expectReg, newReg` over the RRR
// fields (Rd=addr, Ra=expect, Rb=new) since three plain registers are
// all `cas` needs and RRR already has exactly three slots.
func execCas(cpu CPU, in Instruction, pc uint32) error {
	addr := cpu.Reg(in.Rd)
	expect := cpu.Reg(in.Ra)
	newVal := cpu.Reg(in.Rb)
	old, swapped, err := cpu.CompareAndSwap(addr, expect, newVal)
	if err != nil {
		return err
	}
	f := cpu.Flags()
	f.E = swapped
	cpu.SetFlags(f)
	if !swapped {
		cpu.SetReg(in.Ra, old)
	}
	return nil
}

// execIn/execOut implement `in rd, #port` / `out #port, ra` against the
// 16-bit I/O port space (spec.md §6); Imm15 carries the port number in
// both, reusing FormatRI15 the way load/store reuse it for a
// base+offset address — here there's no base register, just a literal
// port, so Ra is unused by `in` and is the source register for `out`.
func execIn(cpu CPU, in Instruction, pc uint32) error {
	v, err := cpu.PortIn(uint16(in.Imm15))
	if err != nil {
		return err
	}
	cpu.SetReg(in.Rd, uint32(v))
	return nil
}

func execOut(cpu CPU, in Instruction, pc uint32) error {
	return cpu.PortOut(uint16(in.Imm15), uint8(cpu.Reg(in.Ra)))
}

type cond int

const (
	condAlways cond = iota
	condEq
	condNe
	condLt
	condGt
	condZero
	condNotZero
	condSign
	condNotSign
	condOverflow
	condNotOverflow
	condGe
	condLe
)

func evaluate(c cond, f Flags) bool {
	switch c {
	case condAlways:
		return true
	case condEq:
		return f.E
	case condNe:
		return !f.E
	case condLt:
		return f.S
	case condGt:
		return !f.S && !f.E
	case condZero:
		return f.Z
	case condNotZero:
		return !f.Z
	case condSign:
		return f.S
	case condNotSign:
		return !f.S
	case condOverflow:
		return f.O
	case condNotOverflow:
		return !f.O
	case condGe:
		return !f.S || f.E
	case condLe:
		return f.S || f.E
	default:
		return false
	}
}

var setConditions = map[Opcode]cond{
	OpSete: condEq, OpSetne: condNe, OpSetl: condLt, OpSetg: condGt,
	OpSetle: condLe, OpSetge: condGe, OpSetz: condZero, OpSetnz: condNotZero,
	OpSets: condSign, OpSetns: condNotSign, OpSeto: condOverflow, OpSetno: condNotOverflow,
}

var branchConditions = map[Opcode]cond{
	OpBr: condAlways, OpBeq: condEq, OpBne: condNe, OpBl: condLt, OpBg: condGt,
	OpBz: condZero, OpBnz: condNotZero, OpBs: condSign, OpBns: condNotSign,
	OpBo: condOverflow, OpBno: condNotOverflow, OpBge: condGe, OpBle: condLe,
}
