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

package machine

import (
	"testing"
	"time"

	"coreforge/internal/core"
	"coreforge/internal/cpucontainer"
	"coreforge/internal/device"
	"coreforge/internal/isa"
	"coreforge/internal/memory"
	"coreforge/internal/vmerr"
	"coreforge/internal/vmlog"
)

const testMemSize = memory.SegmentSize

func newTestMem(t *testing.T) *memory.Controller {
	t.Helper()
	mem, err := memory.New(testMemSize, false)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	for i := uint32(0); i < testMemSize/memory.PageSize; i++ {
		if _, err := mem.AllocSpecific(i); err != nil {
			t.Fatalf("AllocSpecific(%d): %v", i, err)
		}
	}
	return mem
}

func writeHlt(t *testing.T, mem *memory.Controller, addr uint32, exitCode int32) {
	t.Helper()
	word := isa.Encode(isa.Instruction{Opcode: isa.OpHlt, Format: isa.FormatRI20, Imm20: exitCode})
	if err := mem.WriteU32(addr, word, true, true); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
}

func runWithTimeout(t *testing.T, m *Machine) int {
	t.Helper()
	result := make(chan int, 1)
	go func() { result <- m.Run() }()
	select {
	case code := <-result:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("Machine.Run did not return")
		return -1
	}
}

func TestBootAndRunSingleCoreExitCode(t *testing.T) {
	mem := newTestMem(t)
	m := New(mem, vmlog.Discard)

	writeHlt(t, mem, 0, 7)
	coreCfg := m.NewCoreConfig()
	c := core.New(mem, m.Coh, coreCfg)
	m.AddCPU(cpucontainer.New(0, []*core.Core{c}))

	if err := m.Boot(0); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if got := runWithTimeout(t, m); got != 7 {
		t.Errorf("Run() = %d, want 7", got)
	}
}

func TestRunReturnsFirstNonZeroExitCodeInCoreOrder(t *testing.T) {
	mem := newTestMem(t)
	m := New(mem, vmlog.Discard)

	writeHlt(t, mem, 0, 0)
	writeHlt(t, mem, 0x100, 0)

	coreCfg := m.NewCoreConfig()
	c0 := core.New(mem, m.Coh, coreCfg)
	c1 := core.New(mem, m.Coh, coreCfg)
	m.AddCPU(cpucontainer.New(0, []*core.Core{c0, c1}))

	c0.Boot(0)
	c1.Boot(0x100)

	if got := runWithTimeout(t, m); got != 0 {
		t.Errorf("Run() = %d, want 0 (both cores exit cleanly)", got)
	}
	if c0.State() != core.StateHalted || c1.State() != core.StateHalted {
		t.Errorf("both cores should be halted: c0=%v c1=%v", c0.State(), c1.State())
	}
}

// fakeDevice is a minimal device.Device for exercising the port map
// without pulling in Console's stream plumbing.
type fakeDevice struct {
	port  device.Port
	value uint8
}

func (d *fakeDevice) Name() string          { return "fake" }
func (d *fakeDevice) Ports() []device.Port  { return []device.Port{d.port} }
func (d *fakeDevice) In(port device.Port, privileged bool) (uint8, error) {
	return d.value, nil
}
func (d *fakeDevice) Out(port device.Port, value uint8, privileged bool) error {
	d.value = value
	return nil
}

func TestAddDeviceMapsPorts(t *testing.T) {
	mem := newTestMem(t)
	m := New(mem, vmlog.Discard)
	dev := &fakeDevice{port: 0x10, value: 0x42}
	m.AddDevice(dev)

	v, err := m.Ports.In(0x10, false)
	if err != nil {
		t.Fatalf("In: %v", err)
	}
	if v != 0x42 {
		t.Errorf("In(0x10) = %d, want 0x42", v)
	}

	if err := m.Ports.Out(0x10, 0x99, false); err != nil {
		t.Fatalf("Out: %v", err)
	}
	if dev.value != 0x99 {
		t.Errorf("device.value = %d after Out, want 0x99", dev.value)
	}
}

func TestUnmappedPortIsInvalidResource(t *testing.T) {
	mem := newTestMem(t)
	m := New(mem, vmlog.Discard)

	_, err := m.Ports.In(0xBEEF, false)
	if _, ok := err.(*vmerr.InvalidResource); !ok {
		t.Fatalf("In(unmapped) = %T, want *vmerr.InvalidResource", err)
	}
	err = m.Ports.Out(0xBEEF, 0, false)
	if _, ok := err.(*vmerr.InvalidResource); !ok {
		t.Fatalf("Out(unmapped) = %T, want *vmerr.InvalidResource", err)
	}
}

func TestRaiseIRQDeliversToCore0(t *testing.T) {
	mem := newTestMem(t)
	m := New(mem, vmlog.Discard)

	const ivtBase = 0x4000
	const vecIndex = 2
	const vecIP = 0x5000
	const vecSP = 0x6000
	if err := mem.WriteU32(ivtBase+vecIndex*8, vecIP, true, true); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU32(ivtBase+vecIndex*8+4, vecSP, true, true); err != nil {
		t.Fatal(err)
	}

	coreCfg := m.NewCoreConfig()
	coreCfg.IVTAddress = ivtBase
	coreCfg.IVTEntries = 4
	c := core.New(mem, m.Coh, coreCfg)
	m.AddCPU(cpucontainer.New(0, []*core.Core{c}))
	c.Boot(0x100)

	m.RaiseIRQ(vecIndex)
	if !m.IRQ.Runnable() {
		t.Fatal("IRQ router should be runnable once an interrupt is queued")
	}
	m.IRQ.Run()

	if c.IP() != vecIP {
		t.Errorf("core ip = 0x%X after delivery, want 0x%X", c.IP(), vecIP)
	}
	if !c.Flags().P {
		t.Errorf("core must enter privileged mode on interrupt delivery")
	}
}

func TestLivenessStopsReactorOnceAllCoresHalt(t *testing.T) {
	mem := newTestMem(t)
	m := New(mem, vmlog.Discard)
	writeHlt(t, mem, 0, 0)

	coreCfg := m.NewCoreConfig()
	c := core.New(mem, m.Coh, coreCfg)
	m.AddCPU(cpucontainer.New(0, []*core.Core{c}))
	if err := m.Boot(0); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		m.React.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop once the only core halted")
	}
}
