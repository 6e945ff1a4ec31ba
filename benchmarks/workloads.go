package benchmarks

import (
	"github.com/sarchlab/osmium/kernel"
	"github.com/sarchlab/osmium/proc"
	"github.com/sarchlab/osmium/userprog"
)

const greeting = "hello from osmium\n"

// GetWorkloads returns the standard workload set.
func GetWorkloads() []Benchmark {
	return []Benchmark{
		exitOnly(),
		hello(),
		pingPong(32),
		roundRobin(4, 16),
		faultIsolation(),
		pageTouch(64),
		forkExec(),
	}
}

// GetCoreWorkloads returns a minimal set for quick validation.
func GetCoreWorkloads() []Benchmark {
	return []Benchmark{
		exitOnly(),
		pingPong(8),
		faultIsolation(),
	}
}

// exits expects fixed codes.
func exits(codes ...uint32) func([]proc.ID) []uint32 {
	return func([]proc.ID) []uint32 {
		return codes
	}
}

func program(build func() ([]byte, error)) []func() ([]byte, error) {
	return []func() ([]byte, error){build}
}

func exitOnly() Benchmark {
	return Benchmark{
		Name:        "exit",
		Description: "one process that exits at once - spawn, switch and reap cost",
		Programs:    program(func() ([]byte, error) { return userprog.Exit(0) }),
		Expect:      exits(0),
	}
}

func hello() Benchmark {
	return Benchmark{
		Name:        "hello",
		Description: "write a greeting through the kernel and exit with its length",
		Programs:    program(func() ([]byte, error) { return userprog.Hello(greeting) }),
		Expect:      exits(uint32(len(greeting))),
	}
}

// pingPong spawns the producer first so the consumer lands one slot below.
func pingPong(n int32) Benchmark {
	return Benchmark{
		Name:        "ping_pong",
		Description: "producer sends 1..n to a consumer, both yielding between messages",
		Programs: []func() ([]byte, error){
			func() ([]byte, error) { return userprog.Producer(n) },
			func() ([]byte, error) { return userprog.Consumer(n) },
		},
		Expect: exits(0, uint32(n*(n+1)/2)),
	}
}

func roundRobin(procs int, yields int32) Benchmark {
	programs := make([]func() ([]byte, error), procs)
	for i := range programs {
		programs[i] = func() ([]byte, error) { return userprog.Yielder(yields) }
	}

	return Benchmark{
		Name:        "round_robin",
		Description: "processes that only yield - scheduler and context switch cost",
		Programs:    programs,
		Expect: func(ids []proc.ID) []uint32 {
			codes := make([]uint32, len(ids))
			for i, id := range ids {
				codes[i] = uint32(id)
			}
			return codes
		},
	}
}

func faultIsolation() Benchmark {
	return Benchmark{
		Name:        "fault_isolation",
		Description: "a faulting process is killed while its neighbour runs to exit",
		Programs: []func() ([]byte, error){
			userprog.Fault,
			func() ([]byte, error) { return userprog.Exit(0) },
		},
		Expect: exits(kernel.FaultExitCode, 0),
	}
}

func pageTouch(pages int32) Benchmark {
	return Benchmark{
		Name:        "page_touch",
		Description: "store to and load from every page of a zero-filled segment - TLB behaviour",
		Programs:    program(func() ([]byte, error) { return userprog.Touch(pages) }),
		Expect:      exits(uint32(pages)),
	}
}

// forkExec forks a child that execs /bin/hello. The child takes the slot
// just below its parent.
func forkExec() Benchmark {
	return Benchmark{
		Name:        "fork_exec",
		Description: "fork a copy of the address space, then replace it with a builtin",
		Programs: program(func() ([]byte, error) {
			return userprog.ForkExec(userprog.HelloPath)
		}),
		Expect: func(ids []proc.ID) []uint32 {
			return []uint32{uint32(ids[0] - 1)}
		},
	}
}
