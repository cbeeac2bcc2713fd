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

package irq

import (
	"errors"
	"testing"

	"coreforge/internal/vmerr"
)

type fakeReader struct {
	mem map[uint32]uint32
}

func (r *fakeReader) ReadU32(addr uint32, privileged bool) (uint32, error) {
	v, ok := r.mem[addr]
	if !ok {
		return 0, errors.New("unmapped")
	}
	return v, nil
}

func TestLookupDecodesVector(t *testing.T) {
	mem := &fakeReader{mem: map[uint32]uint32{
		0x1000 + 2*EntrySize:     0xABCD1234,
		0x1000 + 2*EntrySize + 4: 0x00006000,
	}}
	table := Table{Base: 0x1000, Entries: 8, Mem: mem}

	v, err := table.Lookup(2)
	if err != nil {
		t.Fatal(err)
	}
	if v.IP != 0xABCD1234 || v.SP != 0x00006000 {
		t.Fatalf("Lookup(2) = %+v, want {IP:0xABCD1234 SP:0x6000}", v)
	}
}

func TestLookupOutOfRangeIsInvalidResource(t *testing.T) {
	table := Table{Base: 0x1000, Entries: 4, Mem: &fakeReader{mem: map[uint32]uint32{}}}
	_, err := table.Lookup(4)
	if _, ok := err.(*vmerr.InvalidResource); !ok {
		t.Fatalf("Lookup(4) with Entries=4 = %T, want *vmerr.InvalidResource", err)
	}
}
