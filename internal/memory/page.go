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

package memory

import (
	"encoding/binary"

	"coreforge/internal/vmerr"
)

// Page dimensions, per spec.md §3: 256 bytes/page, 256 pages/segment.
const (
	PageShift       = 8
	PageSize        = 1 << PageShift
	PageMask        = PageSize - 1
	PagesPerSegment = 256
	SegmentSize     = PagesPerSegment * PageSize
)

// Flags are the per-page permission/state bits spec.md §3 names:
// {R, W, X, D (dirty), stack}. Reset clears all but the stack marker.
type Flags struct {
	Read    bool
	Write   bool
	Execute bool
	Dirty   bool
	Stack   bool
}

// reset clears every flag but Stack, matching spec.md §3's lifecycle note.
func (f *Flags) reset() {
	stack := f.Stack
	*f = Flags{Stack: stack}
}

// store is the common byte-buffer behavior shared by anonymous and
// file-mapped pages; each kind plugs in its own backing store via the
// store interface.
type store interface {
	readAt(off uint32) byte
	writeAt(off uint32, v byte)
}

// Page is one physical page of backing storage plus its flags.
type Page struct {
	Index     uint32
	Flags     Flags
	store     store
	fileOwned bool // true for file-mapped pages, informs Reset's comment below
}

// accessKind distinguishes the three permissions a page access can
// require, matching Ducky's check_access(offset, access) string enum.
type accessKind int

const (
	accessRead accessKind = iota
	accessWrite
	accessExecute
)

// checkAccess mirrors Ducky's MemoryPage.check_access: unprivileged
// callers must hold the permission the access needs.
func (p *Page) checkAccess(kind accessKind) error {
	switch kind {
	case accessWrite:
		if !p.Flags.Write {
			return &vmerr.AccessViolation{Message: "page is not writable"}
		}
	case accessExecute:
		if !p.Flags.Execute {
			return &vmerr.AccessViolation{Message: "page is not executable"}
		}
	default:
		if !p.Flags.Read {
			return &vmerr.AccessViolation{Message: "page is not readable"}
		}
	}
	return nil
}

// ReadU8 reads a single byte at the given page-relative offset.
// Permission is checked unless privileged is true.
func (p *Page) ReadU8(offset uint32, privileged bool) (uint8, error) {
	if !privileged {
		if err := p.checkAccess(accessRead); err != nil {
			return 0, err
		}
	}
	return p.store.readAt(offset), nil
}

// ReadU16 reads a little-endian halfword.
func (p *Page) ReadU16(offset uint32, privileged bool) (uint16, error) {
	if !privileged {
		if err := p.checkAccess(accessRead); err != nil {
			return 0, err
		}
	}
	lo := p.store.readAt(offset)
	hi := p.store.readAt(offset + 1)
	return binary.LittleEndian.Uint16([]byte{lo, hi}), nil
}

// ReadU32 reads a little-endian word.
func (p *Page) ReadU32(offset uint32, privileged bool) (uint32, error) {
	if !privileged {
		if err := p.checkAccess(accessRead); err != nil {
			return 0, err
		}
	}
	buf := [4]byte{
		p.store.readAt(offset),
		p.store.readAt(offset + 1),
		p.store.readAt(offset + 2),
		p.store.readAt(offset + 3),
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// FetchU32 reads a little-endian instruction word, checking execute
// permission instead of read permission (spec.md §4.2's fetch-uses-X
// semantics), unless privileged is true.
func (p *Page) FetchU32(offset uint32, privileged bool) (uint32, error) {
	if !privileged {
		if err := p.checkAccess(accessExecute); err != nil {
			return 0, err
		}
	}
	buf := [4]byte{
		p.store.readAt(offset),
		p.store.readAt(offset + 1),
		p.store.readAt(offset + 2),
		p.store.readAt(offset + 3),
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteU8 writes a single byte. dirty controls whether the page's
// Dirty flag is set, matching Ducky's write_uN(..., dirty=True) default
// (the data cache writes through with dirty=true on eviction but the
// cache itself tracks its own dirty bit, so a plain write-back need not
// re-dirty the already-clean backing page).
func (p *Page) WriteU8(offset uint32, v uint8, privileged, dirty bool) error {
	if !privileged {
		if err := p.checkAccess(accessWrite); err != nil {
			return err
		}
	}
	p.store.writeAt(offset, v)
	if dirty {
		p.Flags.Dirty = true
	}
	return nil
}

// WriteU16 writes a little-endian halfword.
func (p *Page) WriteU16(offset uint32, v uint16, privileged, dirty bool) error {
	if !privileged {
		if err := p.checkAccess(accessWrite); err != nil {
			return err
		}
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	p.store.writeAt(offset, buf[0])
	p.store.writeAt(offset+1, buf[1])
	if dirty {
		p.Flags.Dirty = true
	}
	return nil
}

// WriteU32 writes a little-endian word.
func (p *Page) WriteU32(offset uint32, v uint32, privileged, dirty bool) error {
	if !privileged {
		if err := p.checkAccess(accessWrite); err != nil {
			return err
		}
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	for i, b := range buf {
		p.store.writeAt(uint32(i)+offset, b)
	}
	if dirty {
		p.Flags.Dirty = true
	}
	return nil
}

// Reset clears the page's content (anonymous pages only — file-mapped
// pages keep their file-backed content, matching Ducky's MMapMemoryPage
// overriding do_clear to a no-op) and resets flags but Stack.
func (p *Page) Reset() {
	if !p.fileOwned {
		for i := uint32(0); i < PageSize; i++ {
			p.store.writeAt(i, 0)
		}
	}
	p.Flags.reset()
}

type anonStore struct {
	buf [PageSize]byte
}

func (s *anonStore) readAt(off uint32) byte     { return s.buf[off&PageMask] }
func (s *anonStore) writeAt(off uint32, v byte) { s.buf[off&PageMask] = v }

// newAnonymousPage creates a zero-filled, in-process-buffer-backed page.
func newAnonymousPage(index uint32) *Page {
	return &Page{Index: index, store: &anonStore{}}
}
