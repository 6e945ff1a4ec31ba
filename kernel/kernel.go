// Package kernel wires the process core to a simulated hart. It lays out
// physical memory, builds the kernel template address space, creates and
// reclaims processes, and handles traps and system calls.
//
// Physical memory is laid out bottom-up as the kernel window, one root and
// one scratch table for the template, one root and one scratch table per
// process slot, and then the frames handed to the frame allocator.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sarchlab/osmium/config"
	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/paging"
	"github.com/sarchlab/osmium/proc"
	"github.com/sarchlab/osmium/tracing"
)

// FaultExitCode is the exit code of a process killed by a fault.
const FaultExitCode uint32 = 0xFFFFFFFF

// KernelFlags protects the kernel window. It carries no user bit, so the
// window's tables are global and user code cannot reach it.
const KernelFlags = paging.FlagRead | paging.FlagWrite | paging.FlagExec

// ErrNotZombie is returned by Reap for a process that has not exited.
var ErrNotZombie = errors.New("process has not exited")

// Stats counts kernel events since New.
type Stats struct {
	Spawned  uint64 `json:"spawned"`
	Reaped   uint64 `json:"reaped"`
	Switches uint64 `json:"switches"`
	Traps    uint64 `json:"traps"`
	Syscalls uint64 `json:"syscalls"`
	Faults   uint64 `json:"faults"`
	Forks    uint64 `json:"forks"`
	Execs    uint64 `json:"execs"`
}

// Kernel is the single owned kernel instance.
type Kernel struct {
	cfg      *config.Config
	ram      *emu.RAM
	hart     *emu.Hart
	frames   *paging.StackAllocator
	template *paging.Map
	procs    *proc.Manager

	current *proc.Process
	ctx     context.Context
	stats   Stats

	bootID   uuid.UUID
	out      io.Writer
	programs map[string][]byte
	log      logr.Logger
}

// Option is a functional option for configuring the Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger.
func WithLogger(log logr.Logger) Option {
	return func(k *Kernel) {
		k.log = log
	}
}

// WithOutput sets where the write system call sends bytes.
func WithOutput(w io.Writer) Option {
	return func(k *Kernel) {
		k.out = w
	}
}

// WithPrograms registers images that execve can load by name. Later
// registrations of the same name win.
func WithPrograms(programs map[string][]byte) Option {
	return func(k *Kernel) {
		for name, image := range programs {
			k.programs[name] = image
		}
	}
}

// New builds a machine and kernel from cfg.
func New(cfg *config.Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	k := &Kernel{
		cfg:      cfg.Clone(),
		ctx:      context.Background(),
		bootID:   uuid.New(),
		out:      io.Discard,
		programs: map[string][]byte{},
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.log = k.log.WithValues("boot", k.bootID.String())

	k.ram = emu.NewRAM(cfg.RAMBase, cfg.RAMSize)
	k.hart = emu.NewHart(k.ram,
		emu.WithMaxInstructions(cfg.MaxInstructions),
		emu.WithTLBGeometry(cfg.TLBSets, cfg.TLBWays),
	)

	tables := paging.FrameOf(paging.PhysAddr(cfg.RAMBase + cfg.KernelReserved))
	heap := tables.Addr() + paging.PhysAddr(cfg.TableFrames()*paging.PageSize)
	k.frames = paging.NewStackAllocator(heap, paging.PhysAddr(cfg.RAMBase+cfg.RAMSize))

	k.template = paging.NewMap(k.ram, tables, tables+1)
	if err := k.buildTemplate(); err != nil {
		return nil, fmt.Errorf("failed to build kernel template: %w", err)
	}

	roots := make([]paging.Frame, cfg.MaxProcs)
	scratches := make([]paging.Frame, cfg.MaxProcs)
	for i := range roots {
		roots[i] = tables + paging.Frame(2+2*i)
		scratches[i] = roots[i] + 1
	}

	policy := proc.UniformRWX
	if cfg.StrictSegmentFlags {
		policy = proc.SegmentFlags
	}
	k.procs = proc.NewManager(k.ram, roots, scratches,
		proc.WithSegmentPolicy(policy),
		proc.WithUserStack(paging.VirtAddr(cfg.UserStackBase), uint64(cfg.UserStackSize)),
		proc.WithLogger(k.log),
	)

	k.log.Info("kernel ready",
		"slots", cfg.MaxProcs,
		"frames", k.frames.Capacity(),
		"policy", policy.String(),
	)

	return k, nil
}

// buildTemplate identity-maps the kernel window.
func (k *Kernel) buildTemplate() error {
	if err := k.template.Init(); err != nil {
		return err
	}

	base := paging.VirtAddr(k.cfg.RAMBase)
	for page := range paging.Range(base, k.cfg.KernelReserved) {
		frame := paging.FrameOf(paging.PhysAddr(page.Addr()))
		if err := k.template.Map(page, frame, KernelFlags, k.frames); err != nil {
			return err
		}
	}

	return nil
}

// Config returns the configuration the kernel was built with.
func (k *Kernel) Config() *config.Config {
	return k.cfg
}

// BootID identifies this kernel instance in logs and spans.
func (k *Kernel) BootID() uuid.UUID {
	return k.bootID
}

// Hart returns the simulated hart.
func (k *Kernel) Hart() *emu.Hart {
	return k.hart
}

// Frames returns the user frame allocator.
func (k *Kernel) Frames() *paging.StackAllocator {
	return k.frames
}

// Template returns the kernel template address space.
func (k *Kernel) Template() *paging.Map {
	return k.template
}

// Processes returns the process table.
func (k *Kernel) Processes() *proc.Manager {
	return k.procs
}

// Stats returns the event counters.
func (k *Kernel) Stats() Stats {
	return k.stats
}

// Spawn creates a runnable process from an ELF image. On failure nothing
// stays allocated and the error wraps proc.ErrFailedToCreateProcess.
func (k *Kernel) Spawn(ctx context.Context, image []byte) (id proc.ID, err error) {
	_, span := tracing.StartSpan(ctx, "kernel.spawn", "")
	defer func() { tracing.EndSpan(span, err) }()

	img, err := loader.Parse(image)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", proc.ErrFailedToCreateProcess, err)
	}

	p, err := k.procs.Allocate()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", proc.ErrFailedToCreateProcess, err)
	}
	p.Init(p.ID(), p.AddressSpace())
	span.WithInt("pid", int64(p.ID())).WithInt("segments", int64(img.NumSegments()))

	if err := k.build(p, img); err != nil {
		k.discard(p)
		return 0, fmt.Errorf("%w: %w", proc.ErrFailedToCreateProcess, err)
	}

	var frame emu.RegFile
	frame.PC = uint32(img.Entry())
	frame.SetSP(p.StackTop())
	p.SetContext(frame)
	p.SetStatus(proc.StatusRunnable)
	k.stats.Spawned++

	k.log.Info("spawned", "pid", p.ID(), "entry", img.Entry(), "free_frames", k.frames.Available())
	return p.ID(), nil
}

func (k *Kernel) build(p *proc.Process, img *loader.Image) error {
	if err := p.CreateAddressSpace(k.template); err != nil {
		return err
	}
	return p.LoadElf(k.hart, img, k.frames)
}

// discard releases everything a partially built process holds.
func (k *Kernel) discard(p *proc.Process) {
	if err := p.AddressSpace().Release(k.frames); err != nil {
		k.log.Error(err, "failed to release address space", "pid", p.ID())
	}
	k.hart.FlushTLB()
	if err := k.procs.Deallocate(p); err != nil {
		k.log.Error(err, "failed to free slot", "pid", p.ID())
	}
}

// Reap reclaims an exited process: its user frames, its page tables and
// its slot. It returns the exit code.
func (k *Kernel) Reap(ctx context.Context, id proc.ID) (code uint32, err error) {
	_, span := tracing.StartSpan(ctx, "kernel.reap", "")
	span.WithInt("pid", int64(id))
	defer func() { tracing.EndSpan(span, err) }()

	p, err := k.procs.Lookup(id)
	if err != nil {
		return 0, err
	}
	if p.Status() != proc.StatusZombie {
		return 0, fmt.Errorf("pid %d is %s: %w", id, p.Status(), ErrNotZombie)
	}

	code = p.ExitCode()
	if err := p.AddressSpace().Release(k.frames); err != nil {
		return 0, fmt.Errorf("pid %d: %w", id, err)
	}
	// The next process in this slot reuses the root frame as its ASID.
	k.hart.FlushTLB()
	if err := k.procs.Deallocate(p); err != nil {
		return 0, err
	}
	k.stats.Reaped++

	k.log.Info("reaped", "pid", id, "code", code, "free_frames", k.frames.Available())
	return code, nil
}

// Boot runs the scheduler until no process is runnable, ctx is cancelled,
// or the hart stops with an error.
func (k *Kernel) Boot(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "kernel.boot", "")
	span.WithAttributes(map[string]string{"boot": k.bootID.String()})
	defer func() {
		span.WithInt("instructions", int64(k.hart.InstructionCount()))
		tracing.EndSpan(span, err)
	}()

	k.ctx = ctx
	defer func() { k.ctx = context.Background() }()

	err = k.hart.Run(k.schedule, emu.TrapHandlerFunc(k.handleTrap))
	k.current = nil

	k.log.Info("halted", "instructions", k.hart.InstructionCount(), "err", err)
	return err
}

// schedule picks the next runnable process and runs it, or halts the hart
// when there is none. It never returns.
func (k *Kernel) schedule() {
	if err := k.ctx.Err(); err != nil {
		k.hart.Halt(err)
	}

	p, ok := k.procs.Schedule()
	if !ok {
		k.log.V(1).Info("nothing runnable")
		k.hart.Halt(nil)
	}

	k.current = p
	k.stats.Switches++
	p.Run(k.hart)
}
