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

// Run implements reactor.Task: one fetch/decode/execute step per
// invocation, matching spec.md §2's control-flow paragraph ("when
// runnable... its step is called; it performs one fetch/execute").
func (c *Core) Run() {
	c.Step()
}

// Step fetches the instruction at ip, advances ip by 4, executes it,
// and increments cnt. Any error the handler raises terminates the core
// (spec.md §4.7, §7 propagation policy): exit code 1, logged, halted.
func (c *Core) Step() {
	pc := c.ip
	in, err := c.icache.Fetch(pc)
	if err != nil {
		c.fault(pc, err)
		return
	}
	c.ip = pc + 4

	if err := isa.Execute(c, in, pc); err != nil {
		c.fault(pc, err)
		return
	}
	c.cnt++
}

func (c *Core) fault(pc uint32, err error) {
	c.log.Error("core step failed", "core", c.id, "ip", pc, "error", err)
	c.Halt(1)
}
