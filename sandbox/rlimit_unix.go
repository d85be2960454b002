//go:build unix

package sandbox

import (
	"golang.org/x/sys/unix"
)

// memoryHeadroomBytes is added on top of the job's ceiling so the Go
// runtime and interpreter baseline do not consume the script's budget.
const memoryHeadroomBytes = 128 * 1024 * 1024

// applyMemoryLimit caps the child's address space with RLIMIT_AS. An
// allocation past the cap fails inside the child, which the host reports
// as a memory-limit breach. 0 disables the cap.
func applyMemoryLimit(limit int64) error {
	if limit <= 0 {
		return nil
	}
	total := uint64(limit + memoryHeadroomBytes)
	rl := &unix.Rlimit{Cur: total, Max: total}
	return unix.Setrlimit(unix.RLIMIT_AS, rl)
}
