// Package emu provides functional RV32 hart emulation.
package emu

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/mem/vm"

	"github.com/sarchlab/osmium/paging"
)

// TLBStats holds translation cache statistics.
type TLBStats struct {
	Hits    uint64
	Misses  uint64
	Flushes uint64
}

// TLB caches leaf page-table entries, tagged by address-space identifier.
// The identifier is the root frame number of the translating table.
type TLB struct {
	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Cached entries, indexed by (setID * ways + wayID)
	entries []paging.PTE
	ways    int

	stats TLBStats
}

// NewTLB creates a set-associative TLB with LRU replacement.
func NewTLB(sets, ways int) *TLB {
	return &TLB{
		directory: akitacache.NewDirectory(
			sets,
			ways,
			paging.PageSize,
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([]paging.PTE, sets*ways),
		ways:    ways,
	}
}

func (t *TLB) index(block *akitacache.Block) int {
	return block.SetID*t.ways + block.WayID
}

// Lookup returns the cached entry for page in address space asid.
func (t *TLB) Lookup(asid uint32, page paging.Page) (paging.PTE, bool) {
	block := t.directory.Lookup(vm.PID(asid), uint64(page))
	if block == nil || !block.IsValid {
		t.stats.Misses++
		return 0, false
	}

	t.stats.Hits++
	t.directory.Visit(block)
	return t.entries[t.index(block)], true
}

// Insert caches e as the translation of page in address space asid.
func (t *TLB) Insert(asid uint32, page paging.Page, e paging.PTE) {
	victim := t.directory.FindVictim(uint64(page))
	if victim == nil {
		return
	}

	victim.PID = vm.PID(asid)
	victim.Tag = uint64(page)
	victim.IsValid = true
	t.entries[t.index(victim)] = e
	t.directory.Visit(victim)
}

// Flush drops every cached translation.
func (t *TLB) Flush() {
	t.directory.Reset()
	t.stats.Flushes++
}

// Stats returns TLB statistics.
func (t *TLB) Stats() TLBStats {
	return t.stats
}
