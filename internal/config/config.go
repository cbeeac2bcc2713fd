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

// Package config loads the TOML configuration file described in
// spec.md §6 ([memory], [cpu], [machine] sections) and validates the
// cross-field constraints the memory controller and MMU rely on.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Memory holds the [memory] section.
type Memory struct {
	ForceAlignedAccess bool `toml:"force-aligned-access"`
	SizeBytes          int  `toml:"size"`
}

// CPU holds the [cpu] section. Fields map directly to spec.md §6.
type CPU struct {
	IVTAddress         uint32 `toml:"ivt-address"`
	PTAddress          uint32 `toml:"pt-address"`
	InstCacheSize      int    `toml:"inst-cache"`
	DataCacheEnabled   bool   `toml:"data-cache-enabled"`
	DataCacheSize      int    `toml:"data-cache-size"`
	DataCacheLine      int    `toml:"data-cache-line"`
	DataCacheAssoc     int    `toml:"data-cache-assoc"`
	MathCoprocessor    bool   `toml:"math-coprocessor"`
	ControlCoprocessor bool   `toml:"control-coprocessor"`
	CheckFrames        bool   `toml:"check-frames"`
}

// Machine holds the [machine] section.
type Machine struct {
	CPUs              int    `toml:"cpus"`
	Cores             int    `toml:"cores"`
	InterruptRoutines string `toml:"interrupt-routines"`
}

// Config is the fully decoded configuration file.
type Config struct {
	Memory  Memory  `toml:"memory"`
	CPU     CPU     `toml:"cpu"`
	Machine Machine `toml:"machine"`
}

const (
	pageSize    = 256
	segmentSize = 256 * pageSize
)

// Default returns a Config with the values a minimal single-core,
// single-segment machine needs to boot, rather than leaving zero
// values that would make the memory controller reject the
// configuration outright.
func Default() Config {
	return Config{
		Memory: Memory{SizeBytes: segmentSize},
		CPU: CPU{
			IVTAddress:         0x00000000,
			PTAddress:          0x00000100,
			InstCacheSize:      64,
			DataCacheEnabled:   true,
			DataCacheSize:      256,
			DataCacheLine:      4,
			DataCacheAssoc:     4,
			ControlCoprocessor: true,
		},
		Machine: Machine{CPUs: 1, Cores: 1},
	}
}

// Load decodes path as TOML into a Config seeded with Default, then
// validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints spec.md §4.1 requires:
// memory size must be a multiple of both the page size and the
// segment size, and the machine must have at least one CPU and core.
func (c Config) Validate() error {
	if c.Memory.SizeBytes <= 0 || c.Memory.SizeBytes%pageSize != 0 {
		return fmt.Errorf("config: memory size %d is not a positive multiple of the %d-byte page size", c.Memory.SizeBytes, pageSize)
	}
	if c.Memory.SizeBytes%segmentSize != 0 {
		return fmt.Errorf("config: memory size %d is not a multiple of the %d-byte segment size", c.Memory.SizeBytes, segmentSize)
	}
	if c.Machine.CPUs <= 0 {
		return fmt.Errorf("config: machine.cpus must be >= 1")
	}
	if c.Machine.Cores <= 0 {
		return fmt.Errorf("config: machine.cores must be >= 1")
	}
	return nil
}
