package proc

import (
	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/paging"
)

// Hart is the machine state the process core drives: the active
// address-space register, the interrupt-enable bit, kernel loads and stores
// through the active translation, and the context-restore primitive.
type Hart interface {
	SATP() uint32
	SetSATP(ppn uint32)
	FlushTLB()

	DisableInterrupts() bool
	RestoreInterrupts(prev bool)

	Store(va paging.VirtAddr, data []byte) error
	Load(va paging.VirtAddr, n int) ([]byte, error)

	// Restore transfers control to frame and never returns.
	Restore(frame *emu.RegFile)
}

// activate switches h to the address space rooted at ppn with interrupts
// masked. The returned func undoes both and must run on every exit path.
func activate(h Hart, ppn uint32) (restore func()) {
	mask := h.DisableInterrupts()
	old := h.SATP()
	h.SetSATP(ppn)

	return func() {
		h.SetSATP(old)
		h.RestoreInterrupts(mask)
	}
}
