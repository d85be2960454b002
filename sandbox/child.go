package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/zhangyunhao116/scriptbox/internal/envutil"
	"github.com/zhangyunhao116/scriptbox/internal/jswire"
)

// childEnvKey marks a process as a sandbox child. Its value is the file
// descriptor number carrying the serialized job.
const childEnvKey = "_SCRIPTBOX_JOB"

// childJobFd is the descriptor the job config pipe is mapped to in the
// child: the first ExtraFiles entry, after stdin/stdout/stderr.
const childJobFd = 3

// childJob is the serialized execution request passed to the child over
// the config pipe. Tool invokers cannot cross the boundary; the child
// bridges calls back over stdin/stdout instead.
type childJob struct {
	ID             string           `json:"id"`
	Script         string           `json:"script"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Timeout        time.Duration    `json:"timeout"`
	MaxMemoryBytes int64            `json:"maxMemoryBytes"`
	MaxLogBytes    int              `json:"maxLogBytes"`
}

// MaybeChildInit checks whether this process was spawned as a sandbox
// child and, if so, takes over: it runs the embedded job and exits the
// process. It must be called at the very top of main, before any other
// initialization, in every binary that uses the process backend.
// It returns false in a normal (non-child) process.
func MaybeChildInit() bool {
	fdStr, ok := envutil.GetEnv(os.Environ(), childEnvKey)
	if !ok || fdStr == "" {
		return false
	}
	// The child applies per-thread state (rlimits are process wide, but
	// keeping the interpreter on one locked thread keeps behavior
	// predictable under the tight limits).
	runtime.LockOSThread()
	os.Exit(childMain(fdStr))
	return true // unreachable
}

// childMain reads the job from the inherited descriptor, applies resource
// limits, runs the script on a hardened runtime, and reports the outcome
// as jswire frames on stdout. The exit code reflects only infrastructure
// health; script failures travel in the done frame.
func childMain(fdStr string) int {
	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < childJobFd {
		fmt.Fprintf(os.Stderr, "invalid job descriptor %q\n", fdStr)
		return 1
	}
	configFile := os.NewFile(uintptr(fd), "job")
	var job childJob
	if err := json.NewDecoder(configFile).Decode(&job); err != nil {
		fmt.Fprintf(os.Stderr, "decode job: %v\n", err)
		return 1
	}
	configFile.Close()

	if err := applyMemoryLimit(job.MaxMemoryBytes); err != nil {
		// Weakened but not fatal: the host-side grace deadline still
		// bounds the process.
		fmt.Fprintf(os.Stderr, "apply memory limit: %v\n", err)
	}

	enc := jswire.NewEncoder(os.Stdout)
	dec := jswire.NewDecoder(os.Stdin)

	vm, err := newRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "harden runtime: %v\n", err)
		return 1
	}
	sink := &frameSink{enc: enc, limit: job.MaxLogBytes}
	if sink.limit <= 0 {
		sink.limit = DefaultMaxLogBytes
	}
	if err := bindConsole(vm, sink); err != nil {
		fmt.Fprintf(os.Stderr, "bind console: %v\n", err)
		return 1
	}

	bridge := &toolBridge{enc: enc, dec: dec}
	if err := bindTools(context.Background(), vm, job.Tools, bridge.invoke); err != nil {
		fmt.Fprintf(os.Stderr, "bind tools: %v\n", err)
		return 1
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	stop := interruptAfter(vm, timeout)
	value, scriptErr := runScript(vm, job.Script)
	stop()

	done := &jswire.Frame{
		Type:      jswire.TypeDone,
		Value:     value,
		Error:     scriptErr,
		Truncated: sink.truncated,
	}
	if err := enc.Encode(done); err != nil {
		// The return value did not survive JSON encoding. Report that as
		// a script failure rather than dying silently.
		done.Value = nil
		done.Error = fmt.Sprintf("result not serializable: %v", err)
		if err := enc.Encode(done); err != nil {
			fmt.Fprintf(os.Stderr, "write done frame: %v\n", err)
			return 1
		}
	}
	return 0
}

// frameSink streams console lines to the host as log frames, with the
// same byte budget semantics as the in-process logSink.
type frameSink struct {
	enc       *jswire.Encoder
	bytes     int
	limit     int
	truncated bool
}

func (s *frameSink) add(line string) {
	if s.truncated {
		return
	}
	if s.bytes+len(line) > s.limit {
		s.truncated = true
		return
	}
	s.bytes += len(line)
	s.enc.Encode(&jswire.Frame{Type: jswire.TypeLog, Line: line})
}

// toolBridge forwards tool calls to the host over the frame protocol.
// The child interpreter is single threaded, so traffic is strictly
// request before response.
type toolBridge struct {
	enc    *jswire.Encoder
	dec    *jswire.Decoder
	nextID int64
}

func (b *toolBridge) invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	b.nextID++
	call := &jswire.Frame{Type: jswire.TypeCall, ID: b.nextID, Tool: name, Params: params}
	if err := b.enc.Encode(call); err != nil {
		return nil, fmt.Errorf("tool bridge write: %w", err)
	}
	for {
		reply, err := b.dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("tool bridge read: %w", err)
		}
		if reply.ID != call.ID {
			continue
		}
		switch reply.Type {
		case jswire.TypeResult:
			return reply.Value, nil
		case jswire.TypeError:
			return nil, fmt.Errorf("%s", reply.Error)
		default:
			return nil, fmt.Errorf("tool bridge: unexpected %s frame", reply.Type)
		}
	}
}
