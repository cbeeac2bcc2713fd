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

import "coreforge/internal/vmerr"

// Format identifies how the remaining bits of a 32-bit word are sliced
// once the opcode is known. Uses a 7-bit opcode field (bits 6:0) to
// leave room for the full instruction family; the register+immediate
// classes land at 15 and 20 bits exactly (the 16-bit class never
// materialized once cas/jr claimed a 3-register slot, so only 15 and
// 20 are used).
type Format int

const (
	FormatNone Format = iota // opcode only: nop, hlt's siblings with no operand, etc.
	FormatRRR                // opcode(7) rd(5) ra(5) rb(5) reserved(10)
	FormatRI15               // opcode(7) rd(5) ra(5) imm15(15), base+offset addressing
	FormatRI20               // opcode(7) rd(5) imm20(20), wide immediate load
	FormatJ25                // opcode(7) imm25(25), branch/call/jump targets
)

// Opcode enumerates every instruction coreforge implements. Values are
// fixed points in the 7-bit opcode field; do not renumber without
// updating any assembled test fixtures.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpHlt
	OpIdle
	OpCli
	OpSti
	OpLpm
	OpRst
	OpRet
	OpRetint
	OpCall
	OpJ
	OpJr
	OpInt
	OpRpt // release_ptes, software-visible PTE-cache invalidation (spec.md §5)

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpUdiv
	OpMod
	OpInc
	OpDec
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShiftl
	OpShiftr

	OpCmp
	OpCmpu

	OpSete
	OpSetne
	OpSetl
	OpSetg
	OpSetle
	OpSetge
	OpSetz
	OpSetnz
	OpSets
	OpSetns
	OpSeto
	OpSetno

	OpMov
	OpLi
	OpLiu
	OpLa
	OpSwp

	OpLw
	OpLs
	OpLb
	OpStw
	OpSts
	OpStb

	OpCas

	OpIn  // in rd, #port — read one byte from the 16-bit I/O port space (spec.md §6)
	OpOut // out #port, ra — write the low byte of ra to a port

	OpBr
	OpBeq
	OpBne
	OpBl
	OpBg
	OpBz
	OpBnz
	OpBs
	OpBns
	OpBo
	OpBno
	OpBge
	OpBle

	opcodeCount
)

var opcodeFormat = [opcodeCount]Format{
	OpNop: FormatNone, OpHlt: FormatRI20, OpIdle: FormatNone,
	OpCli: FormatNone, OpSti: FormatNone, OpLpm: FormatNone, OpRst: FormatNone,
	OpRet: FormatNone, OpRetint: FormatNone,
	OpCall: FormatJ25, OpJ: FormatJ25, OpJr: FormatRRR, OpInt: FormatRI20, OpRpt: FormatNone,

	OpAdd: FormatRRR, OpSub: FormatRRR, OpMul: FormatRRR, OpDiv: FormatRRR,
	OpUdiv: FormatRRR, OpMod: FormatRRR, OpInc: FormatRRR, OpDec: FormatRRR,
	OpAnd: FormatRRR, OpOr: FormatRRR, OpXor: FormatRRR, OpNot: FormatRRR,
	OpShiftl: FormatRRR, OpShiftr: FormatRRR,

	OpCmp: FormatRRR, OpCmpu: FormatRRR,

	OpSete: FormatRRR, OpSetne: FormatRRR, OpSetl: FormatRRR, OpSetg: FormatRRR,
	OpSetle: FormatRRR, OpSetge: FormatRRR, OpSetz: FormatRRR, OpSetnz: FormatRRR,
	OpSets: FormatRRR, OpSetns: FormatRRR, OpSeto: FormatRRR, OpSetno: FormatRRR,

	OpMov: FormatRRR, OpLi: FormatRI20, OpLiu: FormatRI20, OpLa: FormatRI20, OpSwp: FormatRRR,

	OpLw: FormatRI15, OpLs: FormatRI15, OpLb: FormatRI15,
	OpStw: FormatRI15, OpSts: FormatRI15, OpStb: FormatRI15,

	OpCas: FormatRRR,

	OpIn: FormatRI15, OpOut: FormatRI15,

	OpBr: FormatJ25, OpBeq: FormatJ25, OpBne: FormatJ25, OpBl: FormatJ25, OpBg: FormatJ25,
	OpBz: FormatJ25, OpBnz: FormatJ25, OpBs: FormatJ25, OpBns: FormatJ25,
	OpBo: FormatJ25, OpBno: FormatJ25, OpBge: FormatJ25, OpBle: FormatJ25,
}

var opcodeName = [opcodeCount]string{
	OpNop: "nop", OpHlt: "hlt", OpIdle: "idle", OpCli: "cli", OpSti: "sti",
	OpLpm: "lpm", OpRst: "rst", OpRet: "ret", OpRetint: "retint",
	OpCall: "call", OpJ: "j", OpJr: "jr", OpInt: "int", OpRpt: "rpt",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpUdiv: "udiv", OpMod: "mod",
	OpInc: "inc", OpDec: "dec", OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not",
	OpShiftl: "shiftl", OpShiftr: "shiftr", OpCmp: "cmp", OpCmpu: "cmpu",
	OpSete: "sete", OpSetne: "setne", OpSetl: "setl", OpSetg: "setg",
	OpSetle: "setle", OpSetge: "setge", OpSetz: "setz", OpSetnz: "setnz",
	OpSets: "sets", OpSetns: "setns", OpSeto: "seto", OpSetno: "setno",
	OpMov: "mov", OpLi: "li", OpLiu: "liu", OpLa: "la", OpSwp: "swp",
	OpLw: "lw", OpLs: "ls", OpLb: "lb", OpStw: "stw", OpSts: "sts", OpStb: "stb",
	OpCas: "cas",
	OpIn:  "in", OpOut: "out",
	OpBr: "br", OpBeq: "be", OpBne: "bne", OpBl: "bl", OpBg: "bg",
	OpBz: "bz", OpBnz: "bnz", OpBs: "bs", OpBns: "bns", OpBo: "bo", OpBno: "bno",
	OpBge: "bge", OpBle: "ble",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeName) && opcodeName[op] != "" {
		return opcodeName[op]
	}
	return "???"
}

// Instruction is the decoded view of one 32-bit word.
type Instruction struct {
	Raw    uint32
	Opcode Opcode
	Format Format
	Rd     uint8
	Ra     uint8
	Rb     uint8
	Imm15  int32
	Imm20  int32
	Imm25  int32
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// Decode unpacks a little-endian 32-bit instruction word. The opcode
// occupies bits 6:0; an opcode with no registered format (out-of-range
// or reserved) is reported as InvalidOpcode.
func Decode(word uint32, ip uint32) (Instruction, error) {
	opcode := Opcode(word & 0x7F)
	if opcode >= opcodeCount {
		return Instruction{}, &vmerr.InvalidOpcode{Opcode: uint32(opcode), IP: ip}
	}

	in := Instruction{Raw: word, Opcode: opcode, Format: opcodeFormat[opcode]}
	switch in.Format {
	case FormatRRR:
		in.Rd = uint8((word >> 7) & 0x1F)
		in.Ra = uint8((word >> 12) & 0x1F)
		in.Rb = uint8((word >> 17) & 0x1F)
	case FormatRI15:
		in.Rd = uint8((word >> 7) & 0x1F)
		in.Ra = uint8((word >> 12) & 0x1F)
		in.Imm15 = signExtend((word>>17)&0x7FFF, 15)
	case FormatRI20:
		in.Rd = uint8((word >> 7) & 0x1F)
		in.Imm20 = signExtend((word>>12)&0xFFFFF, 20)
	case FormatJ25:
		in.Imm25 = signExtend((word>>7)&0x1FFFFFF, 25)
	}
	return in, nil
}

// Encode packs an Instruction back into its 32-bit word, used by tests
// to build fixtures without an assembler.
func Encode(in Instruction) uint32 {
	word := uint32(in.Opcode) & 0x7F
	switch in.Format {
	case FormatRRR:
		word |= uint32(in.Rd&0x1F) << 7
		word |= uint32(in.Ra&0x1F) << 12
		word |= uint32(in.Rb&0x1F) << 17
	case FormatRI15:
		word |= uint32(in.Rd&0x1F) << 7
		word |= uint32(in.Ra&0x1F) << 12
		word |= (uint32(in.Imm15) & 0x7FFF) << 17
	case FormatRI20:
		word |= uint32(in.Rd&0x1F) << 7
		word |= (uint32(in.Imm20) & 0xFFFFF) << 12
	case FormatJ25:
		word |= (uint32(in.Imm25) & 0x1FFFFFF) << 7
	}
	return word
}
