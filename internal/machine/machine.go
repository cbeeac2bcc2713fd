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

// Package machine implements the top-level composition (spec.md §2's
// component table's last row): wiring cores, the coherence controller,
// the IRQ router, devices and the reactor together, booting, and
// collecting the process-wide exit code. Grounded on Ducky's Machine
// composition root.
package machine

import (
	"fmt"
	"log/slog"

	"coreforge/internal/coherence"
	"coreforge/internal/core"
	"coreforge/internal/cpucontainer"
	"coreforge/internal/device"
	"coreforge/internal/irq"
	"coreforge/internal/memory"
	"coreforge/internal/reactor"
)

// Machine owns every component of one running system: the shared
// memory controller and coherence domain, one or more CPUs (each with
// one or more cores), the IRQ router, the port-mapped devices, and the
// reactor that drives all of it.
type Machine struct {
	Mem   *memory.Controller
	Coh   *coherence.Controller
	CPUs  []*cpucontainer.CPU
	Ports *Ports
	IRQ   *irq.Router
	React *reactor.Reactor
	log   *slog.Logger
}

// New builds an empty Machine over an already-allocated memory
// controller; cores and devices are added with AddCPU/AddDevice before
// Boot.
func New(mem *memory.Controller, log *slog.Logger) *Machine {
	coh := coherence.New()
	m := &Machine{
		Mem:   mem,
		Coh:   coh,
		Ports: NewPorts(),
		React: reactor.New(64),
		log:   log,
	}
	m.IRQ = irq.NewRouter(nil, log)
	m.React.AddTask(m.IRQ)
	m.React.AddTask(livenessTask{m})
	return m
}

// NewCoreConfig returns a core.Config seeded with this Machine's port
// space, so `in`/`out` instructions on cores built from it reach
// m.Ports. Callers still fill in the per-core fields (id, cache sizes,
// IVT address, …) before calling core.New.
func (m *Machine) NewCoreConfig() core.Config {
	return core.Config{Ports: m.Ports, Log: m.log}
}

// AddCPU registers cpu and schedules each of its cores as a reactor
// task. The first core of the first CPU added becomes the IRQ
// router's hardware-delivery target (spec.md §4.8: IRQs are delivered
// "to core 0").
func (m *Machine) AddCPU(cpu *cpucontainer.CPU) {
	m.CPUs = append(m.CPUs, cpu)
	for _, c := range cpu.Cores {
		m.React.AddTask(c)
	}
	if len(m.CPUs) == 1 && len(cpu.Cores) > 0 {
		m.IRQ.SetCore0(cpu.Cores[0])
	}
}

// AddDevice maps dev at every port it claims. If dev also implements
// device.IRQSource, its interrupt is raised through the callback the
// caller passed to the device's own constructor (e.g. device.NewConsole
// takes an onReady func that should call m.RaiseIRQ). A device that
// also implements pollable gets a reactor task calling its Poll every
// round.
func (m *Machine) AddDevice(dev device.Device) {
	m.Ports.Map(dev)
	if p, ok := dev.(pollable); ok {
		m.React.AddTask(pollTask{p})
	}
}

// pollable is implemented by devices whose readiness must be checked
// every reactor round rather than signaled by a real OS event (e.g.
// Console, which probes stdin with a non-blocking read).
type pollable interface {
	Poll() bool
}

// pollTask adapts a pollable device to reactor.Task; it's always
// runnable since polling itself is what detects readiness.
type pollTask struct {
	p pollable
}

func (t pollTask) Runnable() bool { return true }
func (t pollTask) Run()           { t.p.Poll() }

// RaiseIRQ enqueues a hardware interrupt for the router to deliver on
// its next reactor round. Devices call this (via the callback passed
// to their constructor) instead of touching core state directly.
func (m *Machine) RaiseIRQ(index uint32) {
	m.IRQ.Enqueue(index)
}

// Boot starts core 0 of the first CPU at entry, matching spec.md §6's
// single-entry-point convention for boot images.
func (m *Machine) Boot(entry uint32) error {
	if len(m.CPUs) == 0 {
		return fmt.Errorf("machine: no CPUs registered")
	}
	m.CPUs[0].Boot(entry)
	return nil
}

// Run drives the reactor until no task remains runnable and no task is
// registered any longer (every core halted), returning the
// process-wide exit code: the first non-zero per-core exit code. This
// is the one thing a full emulator needs that a bare core doesn't: a
// single process exit status.
func (m *Machine) Run() int {
	m.React.Run()
	for _, cpu := range m.CPUs {
		if code := cpu.ExitCode(); code != 0 {
			return int(code)
		}
	}
	return 0
}

// livenessTask is always runnable; once every core is dead it stops
// the reactor, which is how Run's loop terminates (spec.md §2: "A
// liveness task halts the Machine when no living cores remain").
type livenessTask struct {
	m *Machine
}

func (t livenessTask) Runnable() bool { return true }

func (t livenessTask) Run() {
	for _, cpu := range t.m.CPUs {
		if cpu.Alive() {
			return
		}
	}
	t.m.React.Stop()
}
