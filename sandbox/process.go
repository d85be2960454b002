//go:build unix

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zhangyunhao116/scriptbox/internal/envutil"
	"github.com/zhangyunhao116/scriptbox/internal/jswire"
)

// childTimeoutGrace is added to the job timeout for the host-side context
// deadline. The child enforces the real timeout itself; the grace window
// only catches a child that stopped responding entirely.
const childTimeoutGrace = 5 * time.Second

// maxStderrBytes caps captured child stderr, which is used only for
// post-mortem diagnosis.
const maxStderrBytes = 64 * 1024

// childEnvKeep lists the environment variables forwarded to the child.
// Everything else, including any ambient credentials, is stripped.
var childEnvKeep = []string{"HOME", "PATH", "TMPDIR", "TMP", "TEMP", "LANG", "LC_ALL", "TZ"}

// Process runs each job in a freshly spawned copy of the current
// executable. The child re-enters through MaybeChildInit, applies kernel
// resource limits, and speaks the jswire frame protocol over its standard
// pipes. This is the strongest isolation tier.
type Process struct{}

// NewProcess returns the isolated-process backend.
func NewProcess() *Process { return &Process{} }

func (b *Process) Name() string { return "process" }

func (b *Process) Isolation() IsolationLevel { return IsolationProcess }

// Available reports whether the current executable can be re-spawned.
func (b *Process) Available() bool {
	_, err := os.Executable()
	return err == nil
}

func (b *Process) CheckDependencies() *DependencyCheck {
	check := &DependencyCheck{}
	if _, err := os.Executable(); err != nil {
		check.Errors = append(check.Errors, fmt.Sprintf("cannot resolve current executable: %v", err))
	}
	check.Warnings = append(check.Warnings,
		"process backend requires the host binary to call MaybeChildInit at the top of main")
	return check
}

func (b *Process) Cleanup(ctx context.Context) error { return nil }

// Execute spawns a child process for the job and serves its bridged tool
// calls until a done frame or child death.
func (b *Process) Execute(ctx context.Context, job *Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	limits := job.Limits.withDefaults()

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	configBytes, err := json.Marshal(&childJob{
		ID:             job.ID,
		Script:         job.Script,
		Tools:          job.Tools,
		Timeout:        limits.Timeout,
		MaxMemoryBytes: limits.MaxMemoryBytes,
		MaxLogBytes:    limits.MaxLogBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	configR, configW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("config pipe: %w", err)
	}
	defer configR.Close()
	defer configW.Close()

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout+childTimeoutGrace)
	defer cancel()

	cmd := exec.CommandContext(runCtx, exe)
	cmd.Env = envutil.SetEnv(
		envutil.Keep(os.Environ(), childEnvKeep...),
		childEnvKey, fmt.Sprintf("%d", childJobFd))
	cmd.ExtraFiles = []*os.File{configR}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: maxStderrBytes}

	setupProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sandbox process: %w", err)
	}
	configR.Close()
	go func() {
		configW.Write(configBytes)
		configW.Close()
	}()

	sink := newLogSink(limits.MaxLogBytes)
	done := serveBridge(runCtx, jswire.NewDecoder(stdout), jswire.NewEncoder(stdin), boundInvoke(job.Invoke), sink)

	waitErr := cmd.Wait()
	duration := time.Since(start)

	lines, truncated := sink.snapshot()
	if done != nil {
		return &Result{
			Value:         done.Value,
			Err:           done.Error,
			Logs:          lines,
			TruncatedLogs: done.Truncated || truncated,
			Duration:      duration,
		}, nil
	}
	return &Result{
		Err:           classifyChildDeath(runCtx, limits, waitErr, stderr.String()),
		Logs:          lines,
		TruncatedLogs: truncated,
		Duration:      duration,
	}, nil
}

// serveBridge consumes child frames, answering call frames with the real
// tool invoker, until a done frame or stream end. ctx carries the run
// deadline so a stuck invoker cannot hold the loop past it. It returns
// the done frame, or nil if the child died without one.
func serveBridge(ctx context.Context, dec *jswire.Decoder, enc *jswire.Encoder, invoke ToolInvoker, sink *logSink) *jswire.Frame {
	for {
		frame, err := dec.Decode()
		if err != nil {
			return nil
		}
		switch frame.Type {
		case jswire.TypeLog:
			sink.add(frame.Line)
		case jswire.TypeCall:
			reply := &jswire.Frame{Type: jswire.TypeResult, ID: frame.ID}
			if invoke == nil {
				reply.Type = jswire.TypeError
				reply.Error = "tool bridge unavailable"
			} else if value, err := invoke(ctx, frame.Tool, frame.Params); err != nil {
				reply.Type = jswire.TypeError
				reply.Error = err.Error()
			} else {
				reply.Value = value
			}
			if err := enc.Encode(reply); err != nil {
				return nil
			}
		case jswire.TypeDone:
			return frame
		}
	}
}

// classifyChildDeath explains a child that exited without a done frame.
// A deadline breach means the job ran past its timeout and the process
// group was killed; an allocation failure on stderr means the rlimit hit.
func classifyChildDeath(runCtx context.Context, limits Limits, waitErr error, stderr string) string {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return timeoutError(limits.Timeout)
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "cannot allocate memory") {
		return memoryError(limits.MaxMemoryBytes)
	}
	msg := "sandbox process exited before reporting a result"
	if waitErr != nil {
		msg += ": " + waitErr.Error()
	}
	if trimmed := strings.TrimSpace(stderr); trimmed != "" {
		msg += " (stderr: " + trimmed + ")"
	}
	return msg
}

// limitedWriter caps a capture buffer. Writes past the limit are
// discarded but reported as successful to keep the pipe drained.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // discard but report success
	}
	if len(p) <= remaining {
		return w.buf.Write(p)
	}
	// Write only what fits, but report full length to avoid io.ErrShortWrite.
	_, err := w.buf.Write(p[:remaining])
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

var _ io.Writer = (*limitedWriter)(nil)
