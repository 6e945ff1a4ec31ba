// Package emu provides functional RV32 hart emulation.
package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// ErrBusFault is returned for physical accesses outside RAM.
var ErrBusFault = errors.New("physical address outside RAM")

// RAM is the machine's physical memory: a contiguous range starting at base.
type RAM struct {
	storage *mem.Storage
	base    uint64
	size    uint64
}

// NewRAM creates size bytes of zeroed physical memory at base.
func NewRAM(base, size uint64) *RAM {
	return &RAM{
		storage: mem.NewStorage(size),
		base:    base,
		size:    size,
	}
}

// Base returns the first physical address.
func (r *RAM) Base() uint64 {
	return r.base
}

// Size returns the capacity in bytes.
func (r *RAM) Size() uint64 {
	return r.size
}

// Contains reports whether [addr, addr+n) lies inside RAM.
func (r *RAM) Contains(addr, n uint64) bool {
	return addr >= r.base && n <= r.size && addr-r.base <= r.size-n
}

// Read returns n bytes starting at physical address addr.
func (r *RAM) Read(addr, n uint64) ([]byte, error) {
	if !r.Contains(addr, n) {
		return nil, fmt.Errorf("read 0x%x+%d: %w", addr, n, ErrBusFault)
	}
	return r.storage.Read(addr-r.base, n)
}

// Write stores data at physical address addr.
func (r *RAM) Write(addr uint64, data []byte) error {
	if !r.Contains(addr, uint64(len(data))) {
		return fmt.Errorf("write 0x%x+%d: %w", addr, len(data), ErrBusFault)
	}
	return r.storage.Write(addr-r.base, data)
}
