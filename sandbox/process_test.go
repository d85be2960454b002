//go:build unix

package sandbox

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// TestMain lets the test binary double as the sandbox child when the
// process backend re-executes it.
func TestMain(m *testing.M) {
	if MaybeChildInit() {
		return
	}
	os.Exit(m.Run())
}

func requireProcess(t *testing.T) *Process {
	t.Helper()
	b := NewProcess()
	if !b.Available() {
		t.Skip("process backend unavailable on this host")
	}
	return b
}

func TestProcessReturnValue(t *testing.T) {
	res := runOn(t, requireProcess(t), &Job{
		Script: `return { n: 1 + 2, s: "ok" };`,
		Limits: testLimits(),
	})
	if res.Err != "" {
		t.Fatalf("Err = %q", res.Err)
	}
	got, ok := res.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value = %v (%T), want map", res.Value, res.Value)
	}
	// Values cross a JSON boundary, so numbers arrive as float64.
	if n, ok := got["n"].(float64); !ok || n != 3 {
		t.Errorf("n = %v (%T), want float64(3)", got["n"], got["n"])
	}
	if got["s"] != "ok" {
		t.Errorf("s = %v, want ok", got["s"])
	}
}

func TestProcessLogsStreamBack(t *testing.T) {
	res := runOn(t, requireProcess(t), &Job{
		Script: `
			console.log("first");
			console.log("second", 2);
			return null;
		`,
		Limits: testLimits(),
	})
	if res.Err != "" {
		t.Fatalf("Err = %q", res.Err)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "first" || res.Logs[1] != "second 2" {
		t.Errorf("Logs = %v", res.Logs)
	}
}

func TestProcessTimeout(t *testing.T) {
	start := time.Now()
	res := runOn(t, requireProcess(t), &Job{
		Script: "while (true) {}",
		Limits: Limits{Timeout: 200 * time.Millisecond},
	})
	if !strings.Contains(res.Err, "timed out") {
		t.Errorf("Err = %q, want timeout", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestProcessToolBridge(t *testing.T) {
	invoke := func(ctx context.Context, name string, params map[string]any) (any, error) {
		if name != "kv:get" {
			return nil, fmt.Errorf("unexpected tool %q", name)
		}
		return map[string]any{"key": params["key"], "value": "stored"}, nil
	}
	res := runOn(t, requireProcess(t), &Job{
		Script: `
			const out = kv.get({ key: "alpha" });
			return out.key + "=" + out.value;
		`,
		Tools:  []ToolDefinition{{Name: "kv:get"}},
		Invoke: invoke,
		Limits: testLimits(),
	})
	if res.Err != "" {
		t.Fatalf("Err = %q", res.Err)
	}
	if res.Value != "alpha=stored" {
		t.Errorf("Value = %v, want alpha=stored", res.Value)
	}
}

func TestProcessToolErrorIsCatchable(t *testing.T) {
	invoke := func(ctx context.Context, name string, params map[string]any) (any, error) {
		return nil, fmt.Errorf("store sealed")
	}
	res := runOn(t, requireProcess(t), &Job{
		Script: `
			try {
				kv.get({});
				return "unreachable";
			} catch (e) {
				return String(e);
			}
		`,
		Tools:  []ToolDefinition{{Name: "kv:get"}},
		Invoke: invoke,
		Limits: testLimits(),
	})
	if res.Err != "" {
		t.Fatalf("Err = %q", res.Err)
	}
	s, ok := res.Value.(string)
	if !ok || !strings.Contains(s, "store sealed") {
		t.Errorf("caught = %v, want the invoker error", res.Value)
	}
}

func TestProcessHardened(t *testing.T) {
	res := runOn(t, requireProcess(t), &Job{
		Script: `
			Object.prototype.polluted = 1;
			return [typeof eval, ({}).polluted === undefined];
		`,
		Limits: testLimits(),
	})
	if res.Err != "" {
		t.Fatalf("Err = %q", res.Err)
	}
	got, ok := res.Value.([]any)
	if !ok || len(got) != 2 || got[0] != "undefined" || got[1] != true {
		t.Errorf("hardening probes = %v", res.Value)
	}
}

func TestProcessEnvNotLeaked(t *testing.T) {
	t.Setenv("SCRIPTBOX_TEST_SECRET", "hunter2")
	res := runOn(t, requireProcess(t), &Job{
		// process is stripped from the runtime, so probe indirectly: a
		// child with a minimal env has no way to read the variable at all.
		Script: `return typeof process;`,
		Limits: testLimits(),
	})
	if res.Err != "" {
		t.Fatalf("Err = %q", res.Err)
	}
	if res.Value != "undefined" {
		t.Errorf("typeof process = %v, want undefined", res.Value)
	}
}

func TestProcessDependencies(t *testing.T) {
	check := requireProcess(t).CheckDependencies()
	if !check.OK() {
		t.Errorf("CheckDependencies() errors: %v", check.Errors)
	}
}
