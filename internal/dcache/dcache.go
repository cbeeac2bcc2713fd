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

// Package dcache implements the per-core Data Cache (spec.md §4.4):
// a word-granular write-back LRU with dirty tracking, coordinating
// with the Cache Coherence Controller (internal/coherence) on every
// miss and every write so the single-writer invariant (spec.md §3,
// invariant 3) holds. Grounded on Ducky's CPUDataCache, whose
// make_space-writes-back-dirty-on-eviction behavior this mirrors.
package dcache

import (
	"container/list"
	"encoding/binary"

	"coreforge/internal/memory"
	"coreforge/internal/pte"
)

// MMU is the backing store a miss or bypass falls through to.
type MMU interface {
	ReadU8(addr uint32) (uint8, error)
	ReadU16(addr uint32) (uint16, error)
	ReadU32(addr uint32) (uint32, error)
	WriteU8(addr uint32, v uint8) error
	WriteU16(addr uint32, v uint16) error
	WriteU32(addr uint32, v uint32) error
	GetPTE(addr uint32) (pte.Entry, error)
}

// Coherence is the subset of *coherence.Controller the cache drives.
type Coherence interface {
	FlushEntry(addr uint32, caller interface{})
	ReleaseEntry(addr uint32, caller interface{})
}

type line struct {
	addr  uint32 // word-aligned
	value uint32
	dirty bool
}

// Cache is one core's data cache. It implements coherence.PeerCache so
// the coherence controller can drive it as a peer of other cores.
type Cache struct {
	mmu      MMU
	coh      *coherenceAdapter
	capacity int
	ll       *list.List
	index    map[uint32]*list.Element
}

// coherenceAdapter narrows *coherence.Controller to the two calls this
// package needs while letting Cache pass itself as the caller without
// an import cycle (coherence.PeerCache is satisfied structurally).
type coherenceAdapter struct {
	flush   func(addr uint32, caller any)
	release func(addr uint32, caller any)
}

// New creates a Cache of the given word capacity. flush/release are
// *coherence.Controller's FlushEntry/ReleaseEntry bound methods; the
// caller wires them so dcache need not import internal/coherence
// directly (internal/core owns both and does the wiring).
func New(mmu MMU, capacity int, flush, release func(addr uint32, caller any)) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		mmu:      mmu,
		coh:      &coherenceAdapter{flush: flush, release: release},
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[uint32]*list.Element),
	}
}

func wordAddr(addr uint32) uint32 { return addr &^ 3 }

func (c *Cache) cacheable(addr uint32) (bool, error) {
	e, err := c.mmu.GetPTE(addr)
	if err != nil {
		return false, err
	}
	return e.Cache, nil
}

// loadWord returns the current value of the word containing addr,
// consulting the cache, and on a miss asking the coherence controller
// to flush any peer's dirty copy back to memory first so the read
// observes the latest value (spec.md §4.4 read-miss protocol).
func (c *Cache) loadWord(wa uint32) (uint32, error) {
	if el, ok := c.index[wa]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*line).value, nil
	}

	c.coh.flush(wa, c)
	v, err := c.mmu.ReadU32(wa)
	if err != nil {
		return 0, err
	}
	c.insert(&line{addr: wa, value: v})
	return v, nil
}

func (c *Cache) insert(l *line) {
	el := c.ll.PushFront(l)
	c.index[l.addr] = el
	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	l := back.Value.(*line)
	if l.dirty {
		c.mmu.WriteU32(l.addr, l.value) //nolint:errcheck // eviction write-back; caller has no synchronous error path
	}
	c.ll.Remove(back)
	delete(c.index, l.addr)
}

func (c *Cache) storeWord(wa, v uint32, dirty bool) {
	if el, ok := c.index[wa]; ok {
		l := el.Value.(*line)
		l.value = v
		l.dirty = l.dirty || dirty
		c.ll.MoveToFront(el)
		return
	}
	c.insert(&line{addr: wa, value: v, dirty: dirty})
}

// ReadU8/ReadU16/ReadU32 implement spec.md §4.4's read path: bypass for
// uncacheable pages, else cache hit/miss as above, sub-word values
// extracted from the containing word.
func (c *Cache) ReadU8(addr uint32) (uint8, error) {
	cacheable, err := c.cacheable(addr)
	if err != nil {
		return 0, err
	}
	if !cacheable {
		return c.mmu.ReadU8(addr)
	}
	wa := wordAddr(addr)
	v, err := c.loadWord(wa)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return buf[addr-wa], nil
}

func (c *Cache) ReadU16(addr uint32) (uint16, error) {
	cacheable, err := c.cacheable(addr)
	if err != nil {
		return 0, err
	}
	if !cacheable {
		return c.mmu.ReadU16(addr)
	}
	wa := wordAddr(addr)
	v, err := c.loadWord(wa)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	off := addr - wa
	return binary.LittleEndian.Uint16(buf[off : off+2]), nil
}

func (c *Cache) ReadU32(addr uint32) (uint32, error) {
	cacheable, err := c.cacheable(addr)
	if err != nil {
		return 0, err
	}
	if !cacheable {
		return c.mmu.ReadU32(addr)
	}
	return c.loadWord(wordAddr(addr))
}

// writeWord performs a read-modify-write of the word containing addr,
// marks it dirty, then asks the coherence controller to drop peers'
// copies without writeback (this core's copy now supersedes theirs).
func (c *Cache) writeWord(addr uint32, width int, patch func(buf *[4]byte)) error {
	wa := wordAddr(addr)
	cur, err := c.loadWord(wa)
	if err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], cur)
	patch(&buf)
	c.storeWord(wa, binary.LittleEndian.Uint32(buf[:]), true)
	c.coh.release(wa, c)
	return nil
}

func (c *Cache) WriteU8(addr uint32, v uint8) error {
	cacheable, err := c.cacheable(addr)
	if err != nil {
		return err
	}
	if !cacheable {
		return c.mmu.WriteU8(addr, v)
	}
	wa := wordAddr(addr)
	return c.writeWord(addr, 1, func(buf *[4]byte) { buf[addr-wa] = v })
}

func (c *Cache) WriteU16(addr uint32, v uint16) error {
	cacheable, err := c.cacheable(addr)
	if err != nil {
		return err
	}
	if !cacheable {
		return c.mmu.WriteU16(addr, v)
	}
	wa := wordAddr(addr)
	return c.writeWord(addr, 2, func(buf *[4]byte) {
		off := addr - wa
		binary.LittleEndian.PutUint16(buf[off:off+2], v)
	})
}

func (c *Cache) WriteU32(addr uint32, v uint32) error {
	cacheable, err := c.cacheable(addr)
	if err != nil {
		return err
	}
	if !cacheable {
		return c.mmu.WriteU32(addr, v)
	}
	wa := wordAddr(addr)
	return c.writeWord(addr, 4, func(buf *[4]byte) { binary.LittleEndian.PutUint32(buf[:], v); _ = wa })
}

// ReleaseEntry, ReleasePage, ReleaseArea and ReleaseAll implement
// coherence.PeerCache: invoked by the coherence controller on behalf
// of another core (or, with writeback=true and a nil original caller
// relayed as this cache's own address, an authoritative invalidation).
func (c *Cache) ReleaseEntry(addr uint32, writeback, remove bool) {
	wa := wordAddr(addr)
	el, ok := c.index[wa]
	if !ok {
		return
	}
	c.releaseElement(el, writeback, remove)
}

func (c *Cache) releaseElement(el *list.Element, writeback, remove bool) {
	l := el.Value.(*line)
	if writeback && l.dirty {
		c.mmu.WriteU32(l.addr, l.value) //nolint:errcheck // coherence write-back, no synchronous error path
	}
	if remove {
		c.ll.Remove(el)
		delete(c.index, l.addr)
	} else if writeback {
		l.dirty = false
	}
}

func (c *Cache) ReleasePage(pageIndex uint32, writeback, remove bool) {
	c.releaseMatching(writeback, remove, func(addr uint32) bool {
		return addr>>memory.PageShift == pageIndex
	})
}

func (c *Cache) ReleaseArea(addr, size uint32, writeback, remove bool) {
	end := addr + size
	c.releaseMatching(writeback, remove, func(a uint32) bool {
		return a >= addr && a < end
	})
}

func (c *Cache) ReleaseAll(writeback, remove bool) {
	c.releaseMatching(writeback, remove, func(uint32) bool { return true })
}

func (c *Cache) releaseMatching(writeback, remove bool, match func(addr uint32) bool) {
	var victims []*list.Element
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if match(el.Value.(*line).addr) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.releaseElement(el, writeback, remove)
	}
}
