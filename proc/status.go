package proc

// Status is the scheduling state of a process slot.
type Status uint8

// Slot states. The numeric values are the ones user programs observe.
const (
	StatusFree Status = iota
	StatusRunning
	StatusRunnable
	StatusNotRunnable
	StatusZombie
)

var statusNames = [...]string{"free", "running", "runnable", "not-runnable", "zombie"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Uint32 returns the status as reported to user programs.
func (s Status) Uint32() uint32 {
	return uint32(s)
}

// Kind distinguishes user processes from kernel tasks. Only user processes
// exist today.
type Kind uint8

// Process kinds.
const (
	KindUser Kind = iota
)
