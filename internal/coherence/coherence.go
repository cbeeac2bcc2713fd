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

// Package coherence implements the Cache Coherence Controller
// (spec.md §4.5): it owns the set of registered per-core data caches
// and broadcasts invalidate/flush requests to every peer except the
// caller, enforcing the single-writer invariant spec.md §3 states.
package coherence

import "sync"

// PeerCache is the subset of a per-core data cache's surface the
// coherence controller drives. Implemented by *dcache.Cache.
type PeerCache interface {
	ReleaseEntry(addr uint32, writeback, remove bool)
	ReleasePage(pageIndex uint32, writeback, remove bool)
	ReleaseArea(addr, size uint32, writeback, remove bool)
	ReleaseAll(writeback, remove bool)
}

// Controller broadcasts coherence traffic to every registered cache
// but the one that triggered it.
type Controller struct {
	mu    sync.Mutex
	peers []PeerCache
}

// New creates an empty Controller; cores register as they boot.
func New() *Controller {
	return &Controller{}
}

// RegisterCore adds core's data cache as a coherence participant.
func (c *Controller) RegisterCore(core PeerCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = append(c.peers, core)
}

// UnregisterCore removes a core's data cache, e.g. on core halt.
func (c *Controller) UnregisterCore(core PeerCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.peers {
		if p == core {
			c.peers = append(c.peers[:i], c.peers[i+1:]...)
			return
		}
	}
}

func (c *Controller) others(caller PeerCache) []PeerCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerCache, 0, len(c.peers))
	for _, p := range c.peers {
		if p != caller {
			out = append(out, p)
		}
	}
	return out
}

// FlushEntry writes back (without dropping) any peer's dirty copy of
// addr. Used by a read miss, so the subsequent memory read observes
// the latest value regardless of which core last wrote it.
func (c *Controller) FlushEntry(addr uint32, caller PeerCache) {
	for _, p := range c.others(caller) {
		p.ReleaseEntry(addr, true, false)
	}
}

// ReleaseEntry drops peers' copies of addr. When caller is non-nil
// (the common case: a core's own write is taking ownership of the
// line) peers drop without writeback, since the caller's copy
// supersedes theirs. When caller is nil (an authoritative external
// invalidation, e.g. DMA) peers write back before dropping, since
// there is no new owner to supersede them.
func (c *Controller) ReleaseEntry(addr uint32, caller PeerCache) {
	writeback := caller == nil
	for _, p := range c.others(caller) {
		p.ReleaseEntry(addr, writeback, true)
	}
}

// ReleasePage drops peers' entries covering the given physical page index.
func (c *Controller) ReleasePage(pageIndex uint32, caller PeerCache) {
	writeback := caller == nil
	for _, p := range c.others(caller) {
		p.ReleasePage(pageIndex, writeback, true)
	}
}

// ReleaseArea drops peers' entries covering [addr, addr+size).
func (c *Controller) ReleaseArea(addr, size uint32, caller PeerCache) {
	writeback := caller == nil
	for _, p := range c.others(caller) {
		p.ReleaseArea(addr, size, writeback, true)
	}
}

// ReleaseAll drops every peer's entries entirely.
func (c *Controller) ReleaseAll(caller PeerCache) {
	writeback := caller == nil
	for _, p := range c.others(caller) {
		p.ReleaseAll(writeback, true)
	}
}
