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

package core

import "coreforge/internal/isa"

func flagsToWord(f isa.Flags) uint32 {
	var w uint32
	if f.P {
		w |= 1 << 0
	}
	if f.H {
		w |= 1 << 1
	}
	if f.E {
		w |= 1 << 2
	}
	if f.Z {
		w |= 1 << 3
	}
	if f.O {
		w |= 1 << 4
	}
	if f.S {
		w |= 1 << 5
	}
	return w
}

func wordToFlags(w uint32) isa.Flags {
	return isa.Flags{
		P: w&(1<<0) != 0,
		H: w&(1<<1) != 0,
		E: w&(1<<2) != 0,
		Z: w&(1<<3) != 0,
		O: w&(1<<4) != 0,
		S: w&(1<<5) != 0,
	}
}

// EnterInterrupt implements isa.CPU for software `int` to a
// non-virtual index.
func (c *Core) EnterInterrupt(index uint32) error {
	return c.enterInterrupt(index, false)
}

// DeliverHardwareIRQ implements irq.Deliverer: the entry point the
// IRQ router calls on core 0 for a queued hardware interrupt.
func (c *Core) DeliverHardwareIRQ(index uint32) error {
	return c.enterInterrupt(index, true)
}

// enterInterrupt implements spec.md §4.7's interrupt-entry sequence.
// inEntry guards against the entry sequence itself recursing — by
// construction (cores step cooperatively and the IRQ router only runs
// between steps, spec.md §5) this should never actually trigger; it is
// treated as an unrecoverable double fault.
func (c *Core) enterInterrupt(index uint32, hardware bool) error {
	if c.inEntry {
		c.log.Error("double fault entering interrupt", "core", c.id, "irq", index)
		c.Halt(1)
		return nil
	}
	c.inEntry = true
	defer func() { c.inEntry = false }()

	vec, err := c.ivt.Lookup(index)
	if err != nil {
		return err
	}

	oldSP := c.regs[RegSP]
	c.regs[RegSP] = vec.SP
	if err := c.Push32(oldSP); err != nil {
		return err
	}
	if err := c.Push32(flagsToWord(c.flags)); err != nil {
		return err
	}
	if err := c.Push32(c.ip); err != nil {
		return err
	}
	if err := c.Push32(c.regs[RegFP]); err != nil {
		return err
	}
	c.regs[RegFP] = c.regs[RegSP]

	c.isaStack = append(c.isaStack, 0)
	c.flags.P = true
	c.ip = vec.IP

	if hardware {
		c.flags.H = false
		if c.state == StateIdle {
			c.state = StateRunning
		}
	}
	return nil
}

// ExitInterrupt implements `retint`.
func (c *Core) ExitInterrupt() error {
	fp, err := c.Pop32()
	if err != nil {
		return err
	}
	ip, err := c.Pop32()
	if err != nil {
		return err
	}
	flagsWord, err := c.Pop32()
	if err != nil {
		return err
	}
	oldSP, err := c.Pop32()
	if err != nil {
		return err
	}

	c.regs[RegFP] = fp
	c.ip = ip
	c.flags = wordToFlags(flagsWord)
	c.regs[RegSP] = oldSP

	if n := len(c.isaStack); n > 0 {
		c.isaStack = c.isaStack[:n-1]
	}
	return nil
}
