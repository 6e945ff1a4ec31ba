package kernel

import (
	"errors"

	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/paging"
	"github.com/sarchlab/osmium/proc"
	"github.com/sarchlab/osmium/tracing"
)

// System call numbers, passed in a0. Arguments follow in a1 and up; the
// result comes back in a0.
const (
	SysExit       uint32 = 1 // exit(code)
	SysGetProcID  uint32 = 2 // getpid()
	SysYield      uint32 = 3 // yield()
	SysSend       uint32 = 4 // send(pid, payload)
	SysRecv       uint32 = 5 // recv() -> a0 = sender, a1 = payload
	SysProcStatus uint32 = 6 // status(pid)
	SysWrite      uint32 = 7 // write(buf, len)
	SysFork       uint32 = 8 // fork() -> a0 = child or 0, a1 = 1 in the child
	SysExecve     uint32 = 9 // execve(name, len)
)

// MaxWrite is the largest buffer one write call accepts.
const MaxWrite = paging.PageSize

// MaxPath is the longest program name execve accepts.
const MaxPath = 256

// Errno is a negative system call result.
type Errno int32

// System call error results.
const (
	ErrnoInvalidSyscall  Errno = -1
	ErrnoInternal        Errno = -2
	ErrnoTooManyProcess  Errno = -3
	ErrnoNoMemorySpace   Errno = -4
	ErrnoInvalidArgument Errno = -5
	ErrnoIllegalFile     Errno = -6
	ErrnoNotFound        Errno = -7
	ErrnoQueueFull       Errno = -8
	ErrnoQueueEmpty      Errno = -9
)

var errnoNames = map[Errno]string{
	ErrnoInvalidSyscall:  "invalid syscall number",
	ErrnoInternal:        "internal error",
	ErrnoTooManyProcess:  "too many processes",
	ErrnoNoMemorySpace:   "no memory space",
	ErrnoInvalidArgument: "invalid arguments",
	ErrnoIllegalFile:     "illegal file",
	ErrnoNotFound:        "not found",
	ErrnoQueueFull:       "queue full",
	ErrnoQueueEmpty:      "queue empty",
}

func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "unknown error"
}

// Word returns the value placed in a0.
func (e Errno) Word() uint32 {
	return uint32(int32(e))
}

// syscall dispatches the call in p's saved context and moves the saved PC
// past the ecall.
func (k *Kernel) syscall(p *proc.Process, span *tracing.Span) {
	frame := p.Context()
	frame.PC += 4

	num := frame.Arg(0)
	k.stats.Syscalls++
	span.WithInt("syscall", int64(num))

	switch num {
	case SysExit:
		k.handleExit(p, &frame)
	case SysGetProcID:
		frame.SetArg(0, uint32(p.ID()))
	case SysYield:
		k.handleYield(p, &frame)
	case SysSend:
		k.handleSend(p, &frame)
	case SysRecv:
		k.handleRecv(p, &frame)
	case SysProcStatus:
		k.handleProcStatus(&frame)
	case SysWrite:
		k.handleWrite(p, &frame)
	case SysFork:
		k.handleFork(p, &frame)
	case SysExecve:
		k.handleExecve(p, &frame)
	default:
		k.log.V(1).Info("unknown syscall", "pid", p.ID(), "num", num)
		frame.SetArg(0, ErrnoInvalidSyscall.Word())
	}

	p.SetContext(frame)
}

func (k *Kernel) handleExit(p *proc.Process, frame *emu.RegFile) {
	code := frame.Arg(1)
	k.log.Info("exit", "pid", p.ID(), "code", code)
	p.Exit(code)
}

func (k *Kernel) handleYield(p *proc.Process, frame *emu.RegFile) {
	k.log.V(1).Info("yield", "pid", p.ID())
	frame.SetArg(0, 0)
	p.SetStatus(proc.StatusRunnable)
}

// handleSend queues payload a2 on process a1. Free and exited processes
// are not found.
func (k *Kernel) handleSend(p *proc.Process, frame *emu.RegFile) {
	target, err := k.procs.Lookup(proc.ID(frame.Arg(1)))
	if err != nil || target.Status() == proc.StatusFree || target.Status() == proc.StatusZombie {
		frame.SetArg(0, ErrnoNotFound.Word())
		return
	}

	if err := target.EnqueueMessage(p.ID(), frame.Arg(2)); err != nil {
		frame.SetArg(0, ErrnoQueueFull.Word())
		return
	}

	frame.SetArg(0, 0)
}

func (k *Kernel) handleRecv(p *proc.Process, frame *emu.RegFile) {
	msg, err := p.DequeueMessage()
	if err != nil {
		frame.SetArg(0, ErrnoQueueEmpty.Word())
		return
	}

	frame.SetArg(0, uint32(msg.Sender))
	frame.SetArg(1, msg.Payload)
}

func (k *Kernel) handleProcStatus(frame *emu.RegFile) {
	target, err := k.procs.Lookup(proc.ID(frame.Arg(1)))
	if err != nil {
		frame.SetArg(0, ErrnoNotFound.Word())
		return
	}
	frame.SetArg(0, target.Status().Uint32())
}

func (k *Kernel) handleWrite(p *proc.Process, frame *emu.RegFile) {
	va := paging.VirtAddr(frame.Arg(1))
	n := frame.Arg(2)
	if n > MaxWrite {
		frame.SetArg(0, ErrnoInvalidArgument.Word())
		return
	}

	buf, err := k.copyFromUser(p, va, int(n))
	if err != nil {
		k.log.V(1).Info("bad write buffer", "pid", p.ID(), "va", va, "err", err)
		frame.SetArg(0, ErrnoInvalidArgument.Word())
		return
	}

	written, err := k.out.Write(buf)
	if err != nil {
		k.log.Error(err, "write failed", "pid", p.ID())
		frame.SetArg(0, ErrnoInternal.Word())
		return
	}
	frame.SetArg(0, uint32(written))
}

// handleFork copies p into a new runnable process that resumes after the
// same ecall. Slot 0 is a valid child ID, so the child is told apart by
// a1 = 1 rather than by a0 = 0 alone.
func (k *Kernel) handleFork(p *proc.Process, frame *emu.RegFile) {
	child, err := k.procs.Allocate()
	if err != nil {
		frame.SetArg(0, ErrnoTooManyProcess.Word())
		return
	}
	child.Init(child.ID(), child.AddressSpace())

	if err := k.clone(child, p); err != nil {
		k.log.V(1).Info("fork failed", "pid", p.ID(), "err", err)
		k.discard(child)
		if errors.Is(err, paging.ErrOutOfMemory) {
			frame.SetArg(0, ErrnoNoMemorySpace.Word())
		} else {
			frame.SetArg(0, ErrnoInternal.Word())
		}
		return
	}

	childFrame := *frame
	childFrame.SetArg(0, 0)
	childFrame.SetArg(1, 1)
	child.SetContext(childFrame)
	child.SetParent(p.ID())
	child.SetStatus(proc.StatusRunnable)
	k.stats.Forks++

	frame.SetArg(0, uint32(child.ID()))
	frame.SetArg(1, 0)

	k.log.Info("forked", "pid", p.ID(), "child", child.ID(), "free_frames", k.frames.Available())
}

func (k *Kernel) clone(child, parent *proc.Process) error {
	if err := child.CreateAddressSpace(k.template); err != nil {
		return err
	}
	return child.CopyAddressSpace(k.hart, parent, k.frames)
}

// handleExecve replaces p's image with the registered program named by
// the a2 bytes at a1. Identity, parent and pending messages are kept.
// Once the old image is released there is nothing to return to, so a
// failure to build the new one exits p with ErrnoNoMemorySpace.
func (k *Kernel) handleExecve(p *proc.Process, frame *emu.RegFile) {
	n := frame.Arg(2)
	if n == 0 || n > MaxPath {
		frame.SetArg(0, ErrnoInvalidArgument.Word())
		return
	}

	name, err := k.copyFromUser(p, paging.VirtAddr(frame.Arg(1)), int(n))
	if err != nil {
		frame.SetArg(0, ErrnoInvalidArgument.Word())
		return
	}

	image, ok := k.programs[string(name)]
	if !ok {
		frame.SetArg(0, ErrnoIllegalFile.Word())
		return
	}
	img, err := loader.Parse(image)
	if err != nil {
		frame.SetArg(0, ErrnoIllegalFile.Word())
		return
	}

	if err := p.AddressSpace().Release(k.frames); err != nil {
		k.log.Error(err, "failed to release address space", "pid", p.ID())
	}
	k.hart.FlushTLB()

	if err := k.build(p, img); err != nil {
		k.log.Error(err, "execve failed", "pid", p.ID(), "program", string(name))
		if err := p.AddressSpace().Release(k.frames); err != nil {
			k.log.Error(err, "failed to release address space", "pid", p.ID())
		}
		k.hart.FlushTLB()
		p.Exit(ErrnoNoMemorySpace.Word())
		return
	}

	*frame = emu.RegFile{PC: uint32(img.Entry())}
	frame.SetSP(p.StackTop())
	k.stats.Execs++

	k.log.Info("execve", "pid", p.ID(), "program", string(name), "entry", img.Entry())
}

var errUserAccess = errors.New("buffer not readable by user")

// copyFromUser reads n bytes at va in p's address space by walking its
// page table.
func (k *Kernel) copyFromUser(p *proc.Process, va paging.VirtAddr, n int) ([]byte, error) {
	if uint64(va)+uint64(n) > 1<<32 {
		return nil, errUserAccess
	}

	out := make([]byte, 0, n)
	for n > 0 {
		off := int(va & (paging.PageSize - 1))
		chunk := min(n, paging.PageSize-off)

		frame, flags, err := p.AddressSpace().Lookup(paging.PageOf(va))
		if err != nil {
			return nil, err
		}
		if !flags.Has(paging.FlagUser | paging.FlagRead) {
			return nil, errUserAccess
		}

		b, err := k.ram.Read(uint64(frame.Addr())+uint64(off), uint64(chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)

		va += paging.VirtAddr(chunk)
		n -= chunk
	}

	return out, nil
}
