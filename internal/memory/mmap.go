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
	"fmt"
	"os"
	"strings"
	"syscall"
)

// mmapStore backs a page with a slice of a host-file mapping, shared
// (MAP_SHARED, writes land in the file) or private (MAP_PRIVATE,
// copy-on-write — the kernel gives each write its own physical page).
type mmapStore struct {
	region []byte // the PageSize-long slice of the mapping this page owns
}

func (s *mmapStore) readAt(off uint32) byte     { return s.region[off&PageMask] }
func (s *mmapStore) writeAt(off uint32, v byte) { s.region[off&PageMask] = v }

// mmapArea tracks one mmap_area call so unmmap_area can tear it down.
type mmapArea struct {
	file       *os.File
	mapping    []byte // the full syscall.Mmap region
	pagesStart uint32
	pagesCount uint32
}

func (a *mmapArea) close() error {
	err := syscall.Munmap(a.mapping)
	closeErr := a.file.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// mapFile maps size bytes of path starting at offset, shared or
// private, and returns it along with the open file (kept open for the
// lifetime of the mapping, matching Ducky's opened_mmap_files refcount
// bookkeeping, simplified to one file handle per area).
func mapFile(path string, offset int64, size int, access string, shared bool) (*os.File, []byte, error) {
	flags := os.O_RDONLY
	prot := syscall.PROT_READ
	if strings.ContainsRune(strings.ToLower(access), 'w') {
		flags = os.O_RDWR
		prot |= syscall.PROT_WRITE
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: open %s: %w", path, err)
	}

	mapFlags := syscall.MAP_SHARED
	if !shared {
		mapFlags = syscall.MAP_PRIVATE
		prot |= syscall.PROT_WRITE // COW needs write prot even for a read-only access string
	}

	data, err := syscall.Mmap(int(f.Fd()), offset, size, prot, mapFlags)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("memory: mmap %s: %w", path, err)
	}
	return f, data, nil
}
