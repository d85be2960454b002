package scriptbox

import (
	"github.com/zhangyunhao116/scriptbox/sandbox"
)

// MaybeSandboxInit checks if the current process was re-executed as a
// sandbox child for the process backend. When it is, the child runs the
// embedded script job and exits; this function does not return in that
// case.
//
// Call this at the very beginning of main() before any other
// initialization:
//
//	func main() {
//	    if scriptbox.MaybeSandboxInit() {
//	        return
//	    }
//	    // ... rest of main
//	}
func MaybeSandboxInit() bool {
	return sandbox.MaybeChildInit()
}
