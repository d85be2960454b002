package scriptbox

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestWithTimeout(t *testing.T) {
	opts := &callOptions{}
	WithTimeout(5 * time.Second)(opts)

	if opts.timeout != 5*time.Second {
		t.Errorf("timeout: got %v, want 5s", opts.timeout)
	}
}

func TestWithMemoryLimit(t *testing.T) {
	opts := &callOptions{}
	WithMemoryLimit(64 << 20)(opts)

	if opts.maxMemoryBytes != 64<<20 {
		t.Errorf("maxMemoryBytes: got %d", opts.maxMemoryBytes)
	}
}

func TestWithMaxLogBytes(t *testing.T) {
	opts := &callOptions{}
	WithMaxLogBytes(4096)(opts)

	if opts.maxLogBytes != 4096 {
		t.Errorf("maxLogBytes: got %d", opts.maxLogBytes)
	}
}

func TestWithPolicyCopies(t *testing.T) {
	policy := DefaultValidationContext()
	policy.BlockedTools = []string{"notes:delete"}

	opts := &callOptions{}
	WithPolicy(policy)(opts)

	// Mutating the caller's context must not affect the captured copy.
	policy.BlockedTools[0] = "changed"
	policy.MaxRiskLevel = RiskCritical

	if opts.policy.BlockedTools[0] != "notes:delete" {
		t.Errorf("BlockedTools[0]: got %q", opts.policy.BlockedTools[0])
	}
	if opts.policy.MaxRiskLevel != RiskMedium {
		t.Errorf("MaxRiskLevel: got %v", opts.policy.MaxRiskLevel)
	}
}

func TestWithToolsCopies(t *testing.T) {
	tools := []ToolDefinition{{Name: "notes:list"}}

	opts := &callOptions{}
	WithTools(tools...)(opts)

	tools[0].Name = "changed"

	if len(opts.tools) != 1 || opts.tools[0].Name != "notes:list" {
		t.Errorf("tools: got %+v", opts.tools)
	}
}

func TestWithToolsEmptyIsNotNil(t *testing.T) {
	// WithTools() with no tools disables the configured catalog for this
	// call, which is different from not passing WithTools at all.
	opts := &callOptions{}
	WithTools()(opts)

	if opts.tools == nil {
		t.Error("tools: got nil, want empty non-nil slice")
	}
}

func TestWithLogger(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := &callOptions{}
	WithLogger(l)(opts)

	if opts.logger != l {
		t.Error("logger not set")
	}
}

func TestMergeCallOptions(t *testing.T) {
	merged := mergeCallOptions([]Option{
		WithTimeout(time.Second),
		nil,
		WithMaxLogBytes(100),
	})

	if merged.timeout != time.Second {
		t.Errorf("timeout: got %v", merged.timeout)
	}
	if merged.maxLogBytes != 100 {
		t.Errorf("maxLogBytes: got %d", merged.maxLogBytes)
	}
	if merged.policy != nil || merged.tools != nil || merged.backend != nil {
		t.Error("unset options should stay zero")
	}
}

func TestMergeLimits(t *testing.T) {
	base := DefaultLimits()

	limits := mergeLimits(base, &callOptions{timeout: 2 * time.Second, maxLogBytes: 10})
	if limits.Timeout != 2*time.Second {
		t.Errorf("Timeout: got %v", limits.Timeout)
	}
	if limits.MaxMemoryBytes != base.MaxMemoryBytes {
		t.Errorf("MaxMemoryBytes: got %d, want base %d", limits.MaxMemoryBytes, base.MaxMemoryBytes)
	}
	if limits.MaxLogBytes != 10 {
		t.Errorf("MaxLogBytes: got %d", limits.MaxLogBytes)
	}

	// No overrides leaves the base untouched.
	limits = mergeLimits(base, &callOptions{})
	if limits != *base {
		t.Errorf("got %+v, want %+v", limits, *base)
	}
}
