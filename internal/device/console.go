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

package device

import (
	"fmt"
	"io"
	"os"

	"coreforge/internal/vmerr"
)

// Console ports: one data register shared by in/out, one read-only
// status register whose low bit reports "byte available".
const (
	PortConsoleData   Port = 0x0000
	PortConsoleStatus Port = 0x0001

	consoleStatusRxReady = 1 << 0
)

// Console is the reference Device: it reads single bytes from an
// input stream (non-blocking, returning 0 when nothing is ready) and
// writes single bytes to an output stream, flushing immediately so
// output is visible without buffering. It raises irqIndex whenever a
// byte becomes available.
type Console struct {
	in        io.Reader
	out       io.Writer
	irqIndex  uint32
	onReady   func()
	pending   uint8
	hasByte   bool
}

// NewConsole builds a Console over in/out, wired to raise irqIndex via
// onReady each time Poll finds a new byte.
func NewConsole(in io.Reader, out io.Writer, irqIndex uint32, onReady func()) *Console {
	return &Console{in: in, out: out, irqIndex: irqIndex, onReady: onReady}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Ports() []Port { return []Port{PortConsoleData, PortConsoleStatus} }

func (c *Console) IRQIndex() uint32 { return c.irqIndex }

// Poll performs one non-blocking read attempt; the Machine's poll task
// calls this once per reactor round. It returns true if a byte is now
// buffered that wasn't before, the signal to fire onReady.
func (c *Console) Poll() bool {
	if c.hasByte || c.in == nil {
		return false
	}
	buf := make([]byte, 1)
	n, err := c.in.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	c.pending = buf[0]
	c.hasByte = true
	if c.onReady != nil {
		c.onReady()
	}
	return true
}

// In implements Device. Reading the data port consumes the buffered
// byte; reading status never blocks.
func (c *Console) In(port Port, privileged bool) (uint8, error) {
	switch port {
	case PortConsoleData:
		if !c.hasByte {
			return 0, nil
		}
		v := c.pending
		c.hasByte = false
		return v, nil
	case PortConsoleStatus:
		if c.hasByte {
			return consoleStatusRxReady, nil
		}
		return 0, nil
	default:
		return 0, errUnmappedPort(port)
	}
}

// Out implements Device: writing the data port emits one byte,
// flushed immediately so output isn't line buffered.
func (c *Console) Out(port Port, value uint8, privileged bool) error {
	if port != PortConsoleData {
		return errUnmappedPort(port)
	}
	if c.out == nil {
		return nil
	}
	if _, err := c.out.Write([]byte{value}); err != nil {
		return err
	}
	if f, ok := c.out.(*os.File); ok {
		_ = f.Sync()
	}
	return nil
}

func errUnmappedPort(port Port) error {
	return &vmerr.InvalidResource{Message: fmt.Sprintf("unmapped console port 0x%04X", port)}
}
