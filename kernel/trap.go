package kernel

import (
	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/proc"
	"github.com/sarchlab/osmium/tracing"
)

// handleTrap runs in kernel context after the current process traps. The
// process resumes if it is still running; otherwise the next one is
// scheduled. It never returns.
func (k *Kernel) handleTrap(t *emu.Trap) {
	if err := k.ctx.Err(); err != nil {
		k.hart.Halt(err)
	}

	p := k.current
	p.SetContext(t.Frame)
	k.stats.Traps++

	_, span := tracing.StartSpan(k.ctx, "kernel.trap", "")
	span.WithInt("pid", int64(p.ID())).
		WithAttributes(map[string]string{"cause": t.Cause.String()})

	if t.Cause == emu.CauseUserEcall {
		k.syscall(p, span)
	} else {
		k.fault(p, t)
	}
	tracing.EndSpan(span, nil)

	if p.Status() == proc.StatusRunning {
		p.Run(k.hart)
	}
	k.schedule()
}

// fault kills p.
func (k *Kernel) fault(p *proc.Process, t *emu.Trap) {
	k.log.Info("process fault",
		"pid", p.ID(),
		"cause", t.Cause.String(),
		"value", t.Value,
		"pc", t.Frame.PC,
	)
	k.stats.Faults++
	p.Exit(FaultExitCode)
}
