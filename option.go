package scriptbox

import (
	"log/slog"
	"time"

	"github.com/zhangyunhao116/scriptbox/sandbox"
)

// Option configures a single Execute or Check call.
type Option func(*callOptions)

// callOptions holds per-call configuration applied via Option functions.
type callOptions struct {
	timeout        time.Duration
	maxMemoryBytes int64
	maxLogBytes    int
	policy         *ValidationContext
	tools          []ToolDefinition
	toolExecutor   ToolInvoker
	analyzer       ScriptAnalyzer
	validator      ScriptValidator
	backend        sandbox.Backend
	logger         *slog.Logger
}

// WithTimeout sets the wall-clock timeout for a single call. The script
// is forcibly terminated when the timeout elapses.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithMemoryLimit sets the memory ceiling in bytes for a single call.
func WithMemoryLimit(n int64) Option {
	return func(o *callOptions) {
		o.maxMemoryBytes = n
	}
}

// WithMaxLogBytes sets the captured console output limit for a single call.
func WithMaxLogBytes(n int) Option {
	return func(o *callOptions) {
		o.maxLogBytes = n
	}
}

// WithPolicy overrides the validation context for a single call.
// The provided context is deep-copied to prevent aliasing.
func WithPolicy(vctx *ValidationContext) Option {
	cpy := vctx.clone()
	return func(o *callOptions) {
		o.policy = cpy
	}
}

// WithTools overrides the tool catalog for a single call, bypassing the
// configured ToolSource. WithTools with no arguments disables the
// catalog for this call entirely.
func WithTools(tools ...ToolDefinition) Option {
	cpy := make([]ToolDefinition, len(tools))
	copy(cpy, tools)
	return func(o *callOptions) {
		o.tools = cpy
	}
}

// WithToolExecutor overrides the tool executor for a single call.
func WithToolExecutor(invoke ToolInvoker) Option {
	return func(o *callOptions) {
		o.toolExecutor = invoke
	}
}

// WithAnalyzer overrides the syntax analyzer for a single call.
func WithAnalyzer(a ScriptAnalyzer) Option {
	return func(o *callOptions) {
		o.analyzer = a
	}
}

// WithValidator overrides the semantic validator for a single call.
func WithValidator(v ScriptValidator) Option {
	return func(o *callOptions) {
		o.validator = v
	}
}

// WithLogger overrides the logger for a single call.
func WithLogger(l *slog.Logger) Option {
	return func(o *callOptions) {
		o.logger = l
	}
}

// WithBackend pins a single call to a specific sandbox backend instead
// of the engine's selected one. The fallback policy still applies.
func WithBackend(b sandbox.Backend) Option {
	return func(o *callOptions) {
		o.backend = b
	}
}

// mergeCallOptions applies opts to a fresh callOptions.
func mergeCallOptions(opts []Option) *callOptions {
	merged := &callOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(merged)
		}
	}
	return merged
}
