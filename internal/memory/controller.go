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

// Package memory implements the Memory Controller (spec.md §4.1): page
// and segment allocation, file-backed mappings, and the raw,
// width-typed byte/word I/O every other layer (MMU, caches) builds on.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"coreforge/internal/vmerr"
)

// Controller owns every physical page and the segment allocation map.
// It has no notion of privilege beyond the privileged bool each
// accessor takes — permission enforcement above "is this page
// allocated" belongs to the MMU, which consults the PTE table that
// itself lives in pages owned by this same Controller.
type Controller struct {
	mu sync.Mutex

	sizeBytes          uint32
	pageCount          uint32
	segmentCount       uint32
	forceAlignedAccess bool

	pages    map[uint32]*Page
	segments map[uint32]bool
	areas    []*mmapArea
}

// New creates a Controller over sizeBytes of address space. sizeBytes
// must be a positive multiple of both PageSize and SegmentSize;
// config.Config.Validate already enforces this, but the controller
// re-checks so it can be constructed directly in tests.
func New(sizeBytes uint32, forceAlignedAccess bool) (*Controller, error) {
	if sizeBytes == 0 || sizeBytes%PageSize != 0 {
		return nil, &vmerr.ResourceExhausted{Message: fmt.Sprintf("memory size %d is not a multiple of the page size", sizeBytes)}
	}
	if sizeBytes%SegmentSize != 0 {
		return nil, &vmerr.ResourceExhausted{Message: fmt.Sprintf("memory size %d is not a multiple of the segment size", sizeBytes)}
	}
	return &Controller{
		sizeBytes:          sizeBytes,
		pageCount:          sizeBytes / PageSize,
		segmentCount:       sizeBytes / SegmentSize,
		forceAlignedAccess: forceAlignedAccess,
		pages:              make(map[uint32]*Page),
		segments:           make(map[uint32]bool),
	}, nil
}

// Size returns the total addressable memory size in bytes.
func (c *Controller) Size() uint32 { return c.sizeBytes }

// ForceAlignedAccess reports the [memory] force-aligned-access setting.
func (c *Controller) ForceAlignedAccess() bool { return c.forceAlignedAccess }

// AllocSegment reserves the first free segment and returns its index.
func (c *Controller) AllocSegment() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint32(0); i < c.segmentCount; i++ {
		if c.segments[i] {
			continue
		}
		c.segments[i] = true
		return i, nil
	}
	return 0, &vmerr.ResourceExhausted{Message: "no free segment available"}
}

// GetPage returns the page at index, which must already be allocated.
func (c *Controller) GetPage(index uint32) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getPageLocked(index)
}

func (c *Controller) getPageLocked(index uint32) (*Page, error) {
	p, ok := c.pages[index]
	if !ok {
		return nil, &vmerr.AccessViolation{Message: fmt.Sprintf("page %d not allocated", index)}
	}
	return p, nil
}

// AllocSpecific allocates a fresh anonymous page at a specific index.
// It fails if that index is already allocated, or out of range.
func (c *Controller) AllocSpecific(index uint32) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= c.pageCount {
		return nil, &vmerr.AccessViolation{Message: fmt.Sprintf("page index %d out of range", index)}
	}
	if _, ok := c.pages[index]; ok {
		return nil, &vmerr.AccessViolation{Message: fmt.Sprintf("page %d is already allocated", index)}
	}
	p := newAnonymousPage(index)
	c.pages[index] = p
	return p, nil
}

// AllocPages allocates count contiguous anonymous pages, optionally
// confined to a given segment, and returns the index of the first one.
func (c *Controller) AllocPages(segment *uint32, count uint32) (uint32, error) {
	if count == 0 {
		return 0, &vmerr.ResourceExhausted{Message: "alloc_pages: count must be >= 1"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start, end := uint32(0), c.pageCount
	if segment != nil {
		start = *segment * PagesPerSegment
		end = start + PagesPerSegment
	}

	for first := start; first+count <= end; first++ {
		free := true
		for i := uint32(0); i < count; i++ {
			if _, ok := c.pages[first+i]; ok {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for i := uint32(0); i < count; i++ {
			c.pages[first+i] = newAnonymousPage(first + i)
		}
		return first, nil
	}
	return 0, &vmerr.ResourceExhausted{Message: "no contiguous run of free pages available"}
}

// AllocPage is AllocPages with count 1.
func (c *Controller) AllocPage(segment *uint32) (uint32, error) {
	return c.AllocPages(segment, 1)
}

// FreePage releases a previously allocated page, dropping it entirely.
func (c *Controller) FreePage(index uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pages[index]; !ok {
		return &vmerr.AccessViolation{Message: fmt.Sprintf("page %d not allocated", index)}
	}
	delete(c.pages, index)
	return nil
}

// parseAccess turns an access string ("r", "w", "x", or any
// combination, e.g. "rwx") into page flags.
func parseAccess(access string) (Flags, error) {
	f := Flags{}
	for _, c := range strings.ToLower(access) {
		switch c {
		case 'r':
			f.Read = true
		case 'w':
			f.Write = true
		case 'x':
			f.Execute = true
		default:
			return Flags{}, &vmerr.AccessViolation{Message: fmt.Sprintf("unknown access flag %q", c)}
		}
	}
	return f, nil
}

// MmapArea maps size bytes of path at file offset into the page
// starting at virtual/physical addr (this controller only deals in
// physical addresses; translation to/from virtual is the MMU's job),
// shared or private. A page may not be both anonymous and file-mapped,
// and the area may not overlap any already-allocated page.
func (c *Controller) MmapArea(path string, addr, size uint32, offset int64, access string, shared bool) error {
	if addr%PageSize != 0 {
		return &vmerr.AccessViolation{Message: "mmap_area: addr must be page-aligned"}
	}
	flags, err := parseAccess(access)
	if err != nil {
		return err
	}

	pagesStart := addr / PageSize
	pagesCount := (size + PageSize - 1) / PageSize

	c.mu.Lock()
	defer c.mu.Unlock()

	if pagesStart+pagesCount > c.pageCount {
		return &vmerr.AccessViolation{Message: "mmap_area: area exceeds memory size"}
	}
	for i := uint32(0); i < pagesCount; i++ {
		if _, ok := c.pages[pagesStart+i]; ok {
			return &vmerr.AccessViolation{Message: fmt.Sprintf("mmap_area: page %d already allocated", pagesStart+i)}
		}
	}

	f, mapping, err := mapFile(path, offset, int(pagesCount*PageSize), access, shared)
	if err != nil {
		return err
	}

	area := &mmapArea{file: f, mapping: mapping, pagesStart: pagesStart, pagesCount: pagesCount}
	for i := uint32(0); i < pagesCount; i++ {
		idx := pagesStart + i
		region := mapping[i*PageSize : (i+1)*PageSize]
		c.pages[idx] = &Page{
			Index:     idx,
			Flags:     flags,
			store:     &mmapStore{region: region},
			fileOwned: true,
		}
	}
	c.areas = append(c.areas, area)
	return nil
}

// UnmmapArea tears down the mapping starting at addr, freeing its pages.
func (c *Controller) UnmmapArea(addr uint32) error {
	pagesStart := addr / PageSize

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, a := range c.areas {
		if a.pagesStart != pagesStart {
			continue
		}
		for p := uint32(0); p < a.pagesCount; p++ {
			delete(c.pages, a.pagesStart+p)
		}
		c.areas = append(c.areas[:i], c.areas[i+1:]...)
		return a.close()
	}
	return &vmerr.AccessViolation{Message: "unmmap_area: no mapping at that address"}
}

// addrToPage splits a physical address into (page index, offset).
func addrToPage(addr uint32) (uint32, uint32) {
	return addr >> PageShift, addr & PageMask
}

func (c *Controller) checkAlign(addr uint32, width uint32) error {
	if c.forceAlignedAccess && addr%width != 0 {
		return &vmerr.AccessViolation{Message: fmt.Sprintf("unaligned %d-byte access at 0x%08X", width, addr)}
	}
	return nil
}

// ReadU8/ReadU16/ReadU32 and WriteU8/WriteU16/WriteU32 are the raw,
// page-resolving accessors spec.md §4.1 names. privileged bypasses the
// page's own R/W check (the MMU is responsible for deciding when that
// applies); dirty (write only) controls whether the target page's
// dirty flag is set.

func (c *Controller) ReadU8(addr uint32, privileged bool) (uint8, error) {
	idx, off := addrToPage(addr)
	p, err := c.GetPage(idx)
	if err != nil {
		return 0, err
	}
	return p.ReadU8(off, privileged)
}

func (c *Controller) ReadU16(addr uint32, privileged bool) (uint16, error) {
	if err := c.checkAlign(addr, 2); err != nil {
		return 0, err
	}
	idx, off := addrToPage(addr)
	if off == PageSize-1 {
		return 0, &vmerr.AccessViolation{Message: "16-bit access crosses a page boundary"}
	}
	p, err := c.GetPage(idx)
	if err != nil {
		return 0, err
	}
	return p.ReadU16(off, privileged)
}

func (c *Controller) ReadU32(addr uint32, privileged bool) (uint32, error) {
	if err := c.checkAlign(addr, 4); err != nil {
		return 0, err
	}
	idx, off := addrToPage(addr)
	if off > PageSize-4 {
		return 0, &vmerr.AccessViolation{Message: "32-bit access crosses a page boundary"}
	}
	p, err := c.GetPage(idx)
	if err != nil {
		return 0, err
	}
	return p.ReadU32(off, privileged)
}

// FetchU32 reads an instruction word using execute-permission semantics
// at the page layer (spec.md §4.2), as opposed to ReadU32's read
// permission.
func (c *Controller) FetchU32(addr uint32, privileged bool) (uint32, error) {
	if err := c.checkAlign(addr, 4); err != nil {
		return 0, err
	}
	idx, off := addrToPage(addr)
	if off > PageSize-4 {
		return 0, &vmerr.AccessViolation{Message: "32-bit access crosses a page boundary"}
	}
	p, err := c.GetPage(idx)
	if err != nil {
		return 0, err
	}
	return p.FetchU32(off, privileged)
}

func (c *Controller) WriteU8(addr uint32, v uint8, privileged, dirty bool) error {
	idx, off := addrToPage(addr)
	p, err := c.GetPage(idx)
	if err != nil {
		return err
	}
	return p.WriteU8(off, v, privileged, dirty)
}

func (c *Controller) WriteU16(addr uint32, v uint16, privileged, dirty bool) error {
	if err := c.checkAlign(addr, 2); err != nil {
		return err
	}
	idx, off := addrToPage(addr)
	if off == PageSize-1 {
		return &vmerr.AccessViolation{Message: "16-bit access crosses a page boundary"}
	}
	p, err := c.GetPage(idx)
	if err != nil {
		return err
	}
	return p.WriteU16(off, v, privileged, dirty)
}

func (c *Controller) WriteU32(addr uint32, v uint32, privileged, dirty bool) error {
	if err := c.checkAlign(addr, 4); err != nil {
		return err
	}
	idx, off := addrToPage(addr)
	if off > PageSize-4 {
		return &vmerr.AccessViolation{Message: "32-bit access crosses a page boundary"}
	}
	p, err := c.GetPage(idx)
	if err != nil {
		return err
	}
	return p.WriteU32(off, v, privileged, dirty)
}

// ReadPhysByte/WritePhysByte implement pte.ByteSource: always
// privileged, always non-dirtying raw byte access, used by the PTE
// table and by boot-time image loading.
func (c *Controller) ReadPhysByte(addr uint32) (byte, error) {
	return c.ReadU8(addr, true)
}

func (c *Controller) WritePhysByte(addr uint32, v byte) error {
	return c.WriteU8(addr, v, true, false)
}

// LoadImage allocates whatever pages addr..addr+len(data) spans (a
// page already allocated, e.g. by a prior LoadImage call, is left
// alone) and copies data into physical memory starting at addr. This
// is the whole of coreforge's boot-image support: a flat byte blob at
// a fixed address, no header or relocation — assembler/linker/loader
// tooling is explicitly out of scope.
func (c *Controller) LoadImage(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	first, _ := addrToPage(addr)
	last, _ := addrToPage(addr + uint32(len(data)) - 1)

	c.mu.Lock()
	for idx := first; idx <= last; idx++ {
		if _, ok := c.pages[idx]; !ok {
			if idx >= c.pageCount {
				c.mu.Unlock()
				return &vmerr.AccessViolation{Message: fmt.Sprintf("image page %d out of range", idx)}
			}
			c.pages[idx] = newAnonymousPage(idx)
		}
	}
	c.mu.Unlock()

	for i, b := range data {
		if err := c.WritePhysByte(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}
