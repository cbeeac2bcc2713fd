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

// Package icache implements the Instruction Cache (spec.md §4.3): a
// small LRU keyed by physical fetch address, storing the already
// decoded instruction so repeated fetches of the same address skip
// both the MMU permission check and the decode step. Grounded on
// Ducky's InstructionCache, translated from its insertion-ordered-dict
// LRU to an explicit doubly-linked list, per design note "Cache LRU".
package icache

import (
	"container/list"

	"coreforge/internal/isa"
)

// Fetcher is the MMU-level dependency: a raw 32-bit instruction-stream
// read using execute permission semantics.
type Fetcher interface {
	FetchU32(addr uint32) (uint32, error)
}

type entry struct {
	addr uint32
	in   isa.Instruction
}

// Cache is a fixed-capacity LRU of decoded instructions.
type Cache struct {
	mmu      Fetcher
	capacity int
	ll       *list.List
	index    map[uint32]*list.Element
}

// New creates a Cache of the given capacity (entries, not bytes) over mmu.
func New(mmu Fetcher, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		mmu:      mmu,
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[uint32]*list.Element),
	}
}

// Fetch returns the decoded instruction at addr, consulting the cache
// first. On a miss, it fetches the raw word through the MMU (execute
// permission), decodes once, and stores the tuple — pure functions of
// memory, so eviction never needs a write-back (spec.md §4.3).
func (c *Cache) Fetch(addr uint32) (isa.Instruction, error) {
	if el, ok := c.index[addr]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry).in, nil
	}

	word, err := c.mmu.FetchU32(addr)
	if err != nil {
		return isa.Instruction{}, err
	}
	in, err := isa.Decode(word, addr)
	if err != nil {
		return isa.Instruction{}, err
	}

	el := c.ll.PushFront(&entry{addr: addr, in: in})
	c.index[addr] = el
	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
	return in, nil
}

func (c *Cache) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	c.ll.Remove(back)
	delete(c.index, back.Value.(*entry).addr)
}

// Reset empties the cache, e.g. on core reset or an explicit
// instruction-cache invalidation following a write to executable
// memory (spec.md §4.3's "revalidated by an explicit reset/release").
func (c *Cache) Reset() {
	c.ll = list.New()
	c.index = make(map[uint32]*list.Element)
}

// Release drops a single cached entry at addr, if present.
func (c *Cache) Release(addr uint32) {
	if el, ok := c.index[addr]; ok {
		c.ll.Remove(el)
		delete(c.index, addr)
	}
}
