package proc

import (
	"errors"
	"fmt"

	"github.com/sarchlab/osmium/paging"
)

// Errors returned by the process core.
var (
	ErrFailedToCreateProcess = errors.New("failed to create process")
	ErrNoSuchProcess         = errors.New("no such process")
	ErrQueueFull             = errors.New("message queue is full")
	ErrQueueEmpty            = errors.New("message queue is empty")
	ErrOutOfProcesses        = errors.New("out of process slots")
	ErrFreeListOverflow      = errors.New("free slot stack overflow")
	ErrNotAllocated          = errors.New("process slot is not allocated")
)

// MapError reports a region mapping that stopped at VA. Pages mapped
// before VA in the same call stay mapped.
type MapError struct {
	VA    paging.VirtAddr
	Cause error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("failed to map 0x%08x: %v", uint32(e.VA), e.Cause)
}

func (e *MapError) Unwrap() error {
	return e.Cause
}

// ProgramError reports an executable that cannot be placed in an address
// space.
type ProgramError struct {
	Msg string
	Err error
}

func (e *ProgramError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ProgramError) Unwrap() error {
	return e.Err
}
