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
	"fmt"

	"coreforge/internal/device"
	"coreforge/internal/vmerr"
)

// Ports is the sparse 16-bit I/O port space (spec.md §6): a lookup
// from port to the device mapped there, checked on every in/out.
// Grounded on Ducky's machine.py port->device dict, widened here only
// to hold Device values instead of a bespoke per-device class.
type Ports struct {
	devices map[device.Port]device.Device
}

// NewPorts builds an empty port space.
func NewPorts() *Ports {
	return &Ports{devices: make(map[device.Port]device.Device)}
}

// Map registers dev at every port it claims (device.Device.Ports).
// Panics on a double-mapping, a programmer error caught at
// machine-construction time rather than at runtime.
func (p *Ports) Map(dev device.Device) {
	for _, port := range dev.Ports() {
		if existing, exists := p.devices[port]; exists {
			panic(fmt.Sprintf("machine: port 0x%04X already mapped to %q", port, existing.Name()))
		}
		p.devices[port] = dev
	}
}

// In reads one byte from the device at port, or InvalidResource if
// nothing is mapped there (spec.md §6, §7: "unmapped port" is invalid
// resource, not access violation — a protected-port-in-unprivileged-mode
// denial is the device's own job, surfaced as AccessViolation from
// In/Out itself).
func (p *Ports) In(port device.Port, privileged bool) (uint8, error) {
	dev, ok := p.devices[port]
	if !ok {
		return 0, &vmerr.InvalidResource{Message: fmt.Sprintf("unmapped I/O port 0x%04X", port)}
	}
	return dev.In(port, privileged)
}

// Out writes one byte to the device at port.
func (p *Ports) Out(port device.Port, value uint8, privileged bool) error {
	dev, ok := p.devices[port]
	if !ok {
		return &vmerr.InvalidResource{Message: fmt.Sprintf("unmapped I/O port 0x%04X", port)}
	}
	return dev.Out(port, value, privileged)
}
