// Package userprog assembles small RV32I user programs into ELF images for
// the kernel. Each program talks to the kernel only through system calls.
package userprog

import (
	"github.com/sarchlab/osmium/insts"
	"github.com/sarchlab/osmium/kernel"
	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/paging"
	"github.com/sarchlab/osmium/proc"
)

// Fixed load addresses.
const (
	CodeBase paging.VirtAddr = 0x10000
	DataBase paging.VirtAddr = 0x20000
)

const (
	a0 = insts.RegA0
	a1 = insts.RegA1
	a2 = insts.RegA2
	s0 = insts.RegS0
	s1 = insts.RegS1
	t0 = insts.RegT0
	t1 = insts.RegT1
	x0 = insts.RegZero
)

const (
	codeFlags = loader.SegmentFlagRead | loader.SegmentFlagExecute
	dataFlags = loader.SegmentFlagRead | loader.SegmentFlagWrite
)

// prog is an assembler with named branch targets. Programs are generated
// twice: the first pass records label offsets, the second encodes them.
type prog struct {
	*insts.Asm
	labels map[string]int32
}

func (p *prog) label(name string) {
	p.labels[name] = p.PC()
}

// to returns the byte offset from the next instruction to the label.
func (p *prog) to(name string) int32 {
	target, ok := p.labels[name]
	if !ok {
		return 0
	}
	return target - p.PC()
}

func (p *prog) syscall(num uint32) *prog {
	p.Li(a0, int32(num)).Ecall()
	return p
}

func assemble(gen func(p *prog)) ([]byte, error) {
	first := &prog{Asm: insts.NewAsm(), labels: map[string]int32{}}
	gen(first)

	second := &prog{Asm: insts.NewAsm(), labels: first.labels}
	gen(second)

	return second.Bytes()
}

func image(code, data []byte) []byte {
	b := loader.NewBuilder(CodeBase).AddLoad(CodeBase, code, 0, codeFlags)
	if data != nil {
		b.AddLoad(DataBase, data, 0, dataFlags)
	}
	return b.Bytes()
}

func build(data []byte, gen func(p *prog)) ([]byte, error) {
	code, err := assemble(gen)
	if err != nil {
		return nil, err
	}
	return image(code, data), nil
}

// Exit exits with code.
func Exit(code uint32) ([]byte, error) {
	return build(nil, func(p *prog) {
		p.Li(a1, int32(code))
		p.syscall(kernel.SysExit)
	})
}

// Hello writes msg and exits with the number of bytes written.
func Hello(msg string) ([]byte, error) {
	return build([]byte(msg), func(p *prog) {
		p.Li(a1, int32(DataBase))
		p.Li(a2, int32(len(msg)))
		p.syscall(kernel.SysWrite)
		p.I(insts.OpADDI, a1, a0, 0)
		p.syscall(kernel.SysExit)
	})
}

// Producer sends the values 1..count to the process whose ID is one below
// its own, yielding after every attempt and retrying while the target's
// queue is full. It exits with 0, or 1 if the target cannot be found.
func Producer(count int32) ([]byte, error) {
	return build(nil, func(p *prog) {
		p.syscall(kernel.SysGetProcID)
		p.I(insts.OpADDI, s0, a0, -1)
		p.Li(s1, 1)
		p.Li(t0, count+1)
		p.Li(t1, int32(kernel.ErrnoQueueFull))

		p.label("loop")
		p.I(insts.OpADDI, a1, s0, 0)
		p.I(insts.OpADDI, a2, s1, 0)
		p.syscall(kernel.SysSend)
		p.Branch(insts.OpBEQ, a0, t1, p.to("yield"))
		p.Branch(insts.OpBLT, a0, x0, p.to("fail"))
		p.I(insts.OpADDI, s1, s1, 1)

		p.label("yield")
		p.syscall(kernel.SysYield)
		p.Branch(insts.OpBLT, s1, t0, p.to("loop"))

		p.Li(a1, 0)
		p.Jal(x0, p.to("exit"))

		p.label("fail")
		p.Li(a1, 1)

		p.label("exit")
		p.syscall(kernel.SysExit)
	})
}

// Consumer receives count messages, yielding while its queue is empty, and
// exits with the sum of their payloads.
func Consumer(count int32) ([]byte, error) {
	return build(nil, func(p *prog) {
		p.Li(s0, 0)
		p.Li(s1, 0)
		p.Li(t0, count)

		p.label("loop")
		p.syscall(kernel.SysRecv)
		p.Branch(insts.OpBLT, a0, x0, p.to("wait"))
		p.R(insts.OpADD, s0, s0, a1)
		p.I(insts.OpADDI, s1, s1, 1)
		p.Branch(insts.OpBGE, s1, t0, p.to("done"))

		p.label("wait")
		p.syscall(kernel.SysYield)
		p.Jal(x0, p.to("loop"))

		p.label("done")
		p.I(insts.OpADDI, a1, s0, 0)
		p.syscall(kernel.SysExit)
	})
}

// Yielder yields n times and exits with its own ID.
func Yielder(n int32) ([]byte, error) {
	return build(nil, func(p *prog) {
		p.Li(s1, n)

		p.label("loop")
		p.Branch(insts.OpBGE, x0, s1, p.to("done"))
		p.syscall(kernel.SysYield)
		p.I(insts.OpADDI, s1, s1, -1)
		p.Jal(x0, p.to("loop"))

		p.label("done")
		p.syscall(kernel.SysGetProcID)
		p.I(insts.OpADDI, a1, a0, 0)
		p.syscall(kernel.SysExit)
	})
}

// Status exits with the status word of process pid.
func Status(pid uint32) ([]byte, error) {
	return build(nil, func(p *prog) {
		p.Li(a1, int32(pid))
		p.syscall(kernel.SysProcStatus)
		p.I(insts.OpADDI, a1, a0, 0)
		p.syscall(kernel.SysExit)
	})
}

// Fault loads from an unmapped address.
func Fault() ([]byte, error) {
	return build(nil, func(p *prog) {
		p.I(insts.OpLW, a0, x0, 0)
		p.syscall(kernel.SysExit)
	})
}

// Spin loops forever without entering the kernel.
func Spin() ([]byte, error) {
	return build(nil, func(p *prog) {
		p.label("loop")
		p.Jal(x0, p.to("loop"))
	})
}

// Touch writes one word on each of pages pages of a zero-initialized data
// segment, reads them back, and exits with the sum, which is pages.
func Touch(pages int32) ([]byte, error) {
	size := uint32(pages) * paging.PageSize
	code, err := assemble(func(p *prog) {
		p.Li(s0, int32(DataBase))
		p.Li(s1, pages)
		p.Li(t1, 1)

		p.label("store")
		p.Store(insts.OpSW, t1, s0, 0)
		p.Li(t0, paging.PageSize)
		p.R(insts.OpADD, s0, s0, t0)
		p.I(insts.OpADDI, s1, s1, -1)
		p.Branch(insts.OpBLT, x0, s1, p.to("store"))

		p.Li(s0, int32(DataBase))
		p.Li(s1, pages)
		p.Li(a1, 0)

		p.label("load")
		p.I(insts.OpLW, t1, s0, 0)
		p.R(insts.OpADD, a1, a1, t1)
		p.R(insts.OpADD, s0, s0, t0)
		p.I(insts.OpADDI, s1, s1, -1)
		p.Branch(insts.OpBLT, x0, s1, p.to("load"))

		p.syscall(kernel.SysExit)
	})
	if err != nil {
		return nil, err
	}

	return loader.NewBuilder(CodeBase).
		AddLoad(CodeBase, code, 0, codeFlags).
		AddLoad(DataBase, nil, size, dataFlags).
		Bytes(), nil
}

// waitFor yields until the process whose ID is in reg has exited.
func (p *prog) waitFor(reg uint8) {
	p.label("wait")
	p.I(insts.OpADDI, a1, reg, 0)
	p.syscall(kernel.SysProcStatus)
	p.Li(t0, int32(proc.StatusZombie.Uint32()))
	p.Branch(insts.OpBEQ, a0, t0, p.to("waited"))
	p.syscall(kernel.SysYield)
	p.Jal(x0, p.to("wait"))
	p.label("waited")
}

// Forker stores value in its data segment and forks. The child exits with
// the word it finds there. The parent clears the word, waits for the child
// to exit, and exits with the child's ID. A failed fork exits with the
// error word.
func Forker(value int32) ([]byte, error) {
	return build(make([]byte, 4), func(p *prog) {
		p.Li(s1, int32(DataBase))
		p.Li(t0, value)
		p.Store(insts.OpSW, t0, s1, 0)

		p.syscall(kernel.SysFork)
		p.Branch(insts.OpBLT, a0, x0, p.to("fail"))
		p.Branch(insts.OpBNE, a1, x0, p.to("child"))

		p.I(insts.OpADDI, s0, a0, 0)
		p.Store(insts.OpSW, x0, s1, 0)
		p.waitFor(s0)
		p.I(insts.OpADDI, a1, s0, 0)
		p.Jal(x0, p.to("exit"))

		p.label("child")
		p.I(insts.OpLW, a1, s1, 0)
		p.Jal(x0, p.to("exit"))

		p.label("fail")
		p.I(insts.OpADDI, a1, a0, 0)

		p.label("exit")
		p.syscall(kernel.SysExit)
	})
}

// Exec replaces itself with the program registered under name. If execve
// returns, it exits with the error word.
func Exec(name string) ([]byte, error) {
	return build([]byte(name), func(p *prog) {
		p.Li(a1, int32(DataBase))
		p.Li(a2, int32(len(name)))
		p.syscall(kernel.SysExecve)
		p.I(insts.OpADDI, a1, a0, 0)
		p.syscall(kernel.SysExit)
	})
}

// ForkExec forks a child that runs the program registered under name, waits
// for it to exit, and exits with the child's ID. A failed fork exits with
// the error word.
func ForkExec(name string) ([]byte, error) {
	return build([]byte(name), func(p *prog) {
		p.syscall(kernel.SysFork)
		p.Branch(insts.OpBLT, a0, x0, p.to("fail"))
		p.Branch(insts.OpBNE, a1, x0, p.to("child"))

		p.I(insts.OpADDI, s0, a0, 0)
		p.waitFor(s0)
		p.I(insts.OpADDI, a1, s0, 0)
		p.Jal(x0, p.to("exit"))

		p.label("child")
		p.Li(a1, int32(DataBase))
		p.Li(a2, int32(len(name)))
		p.syscall(kernel.SysExecve)

		p.label("fail")
		p.I(insts.OpADDI, a1, a0, 0)

		p.label("exit")
		p.syscall(kernel.SysExit)
	})
}

// Builtin program names.
const (
	NopPath   = "/bin/nop"
	HelloPath = "/bin/hello"
)

// HelloMessage is what the /bin/hello builtin writes.
const HelloMessage = "hello from /bin/hello\n"

// Builtins returns the programs execve can load by name.
func Builtins() (map[string][]byte, error) {
	nop, err := Exit(0)
	if err != nil {
		return nil, err
	}
	hello, err := Hello(HelloMessage)
	if err != nil {
		return nil, err
	}

	return map[string][]byte{
		NopPath:   nop,
		HelloPath: hello,
	}, nil
}
