//go:build !unix

package sandbox

// applyMemoryLimit is a no-op without unix rlimit support. The process
// backend is unavailable on these hosts, so this path only runs if a
// child is spawned by hand.
func applyMemoryLimit(limit int64) error {
	return nil
}
