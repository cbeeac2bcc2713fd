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
	"bytes"
	"strings"
	"testing"

	"coreforge/internal/vmerr"
)

func TestConsolePortsAndIRQIndex(t *testing.T) {
	c := NewConsole(strings.NewReader(""), &bytes.Buffer{}, 3, nil)
	ports := c.Ports()
	if len(ports) != 2 || ports[0] != PortConsoleData || ports[1] != PortConsoleStatus {
		t.Fatalf("Ports() = %v, want [data, status]", ports)
	}
	if c.IRQIndex() != 3 {
		t.Errorf("IRQIndex() = %d, want 3", c.IRQIndex())
	}
	if c.Name() == "" {
		t.Errorf("Name() must not be empty")
	}
}

func TestConsolePollFiresOnReadyOnce(t *testing.T) {
	fired := 0
	c := NewConsole(strings.NewReader("A"), &bytes.Buffer{}, 1, func() { fired++ })

	if ok := c.Poll(); !ok {
		t.Fatal("Poll() = false, want true for a ready byte")
	}
	if fired != 1 {
		t.Fatalf("onReady called %d times, want 1", fired)
	}
	// A second poll before the byte is consumed must not re-fire.
	if ok := c.Poll(); ok {
		t.Fatal("Poll() = true on a second call before consumption, want false")
	}
	if fired != 1 {
		t.Fatalf("onReady called %d times after second poll, want still 1", fired)
	}
}

func TestConsoleStatusAndDataRoundTrip(t *testing.T) {
	c := NewConsole(strings.NewReader("Z"), &bytes.Buffer{}, 1, nil)

	status, err := c.In(PortConsoleStatus, false)
	if err != nil {
		t.Fatalf("status read before poll: %v", err)
	}
	if status != 0 {
		t.Fatalf("status = %d before any byte is ready, want 0", status)
	}

	c.Poll()

	status, err = c.In(PortConsoleStatus, false)
	if err != nil {
		t.Fatalf("status read: %v", err)
	}
	if status != consoleStatusRxReady {
		t.Fatalf("status = %d after poll, want rx-ready bit set", status)
	}

	data, err := c.In(PortConsoleData, false)
	if err != nil {
		t.Fatalf("data read: %v", err)
	}
	if data != 'Z' {
		t.Fatalf("data = %q, want 'Z'", data)
	}

	status, _ = c.In(PortConsoleStatus, false)
	if status != 0 {
		t.Errorf("status = %d after the byte was consumed, want 0", status)
	}
}

func TestConsoleOutWritesToStream(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out, 1, nil)

	if err := c.Out(PortConsoleData, 'H', true); err != nil {
		t.Fatalf("Out: %v", err)
	}
	if err := c.Out(PortConsoleData, 'i', true); err != nil {
		t.Fatalf("Out: %v", err)
	}
	if out.String() != "Hi" {
		t.Fatalf("output = %q, want %q", out.String(), "Hi")
	}
}

func TestConsoleUnmappedPortIsInvalidResource(t *testing.T) {
	c := NewConsole(strings.NewReader(""), &bytes.Buffer{}, 1, nil)

	_, err := c.In(Port(0x99), false)
	if err == nil {
		t.Fatal("expected an error for an unmapped port")
	}
	if _, ok := err.(*vmerr.InvalidResource); !ok {
		t.Fatalf("expected *vmerr.InvalidResource, got %T", err)
	}

	err = c.Out(Port(0x99), 0, false)
	if _, ok := err.(*vmerr.InvalidResource); !ok {
		t.Fatalf("expected *vmerr.InvalidResource, got %T", err)
	}
}
