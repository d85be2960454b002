package scriptbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/zhangyunhao116/scriptbox/sandbox"
)

// detectBackendsFn is the function used to probe sandbox backends.
// It defaults to sandbox.Detect and can be overridden in tests.
var detectBackendsFn = sandbox.Detect

// engine is the core Engine implementation that orchestrates syntax
// analysis, semantic validation, backend selection, and the tool bridge.
type engine struct {
	mu      sync.RWMutex
	closed  bool
	cfg     *Config
	backend sandbox.Backend
	logger  *slog.Logger
}

// newEngine creates an Engine with the given configuration. It validates
// the config, fills in defaults, and selects the strongest available
// backend according to the FallbackPolicy.
func newEngine(cfg *Config) (Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config must not be nil", ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Work on a copy so later caller mutations do not affect the engine.
	cfgCopy := deepCopyConfig(cfg)
	if cfgCopy.Policy == nil {
		cfgCopy.Policy = DefaultValidationContext()
	}
	if cfgCopy.Limits == nil {
		cfgCopy.Limits = DefaultLimits()
	}
	if cfgCopy.Analyzer == nil {
		cfgCopy.Analyzer = DefaultAnalyzer()
	}
	if cfgCopy.Validator == nil {
		cfgCopy.Validator = DefaultValidator()
	}
	logger := cfgCopy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := selectBackend(cfgCopy.FallbackPolicy, logger)
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:     cfgCopy,
		backend: backend,
		logger:  logger,
	}, nil
}

// selectBackend picks the strongest available backend and applies the
// fallback policy when only weak isolation is on offer.
func selectBackend(policy FallbackPolicy, logger *slog.Logger) (sandbox.Backend, error) {
	var chosen sandbox.Backend
	for _, b := range detectBackendsFn() {
		if b.Available() {
			chosen = b
			break
		}
	}
	if chosen == nil {
		return nil, ErrNoBackend
	}
	if chosen.Isolation() < sandbox.IsolationInterpreter {
		switch policy {
		case FallbackWarn:
			logger.Warn("sandbox isolation degraded",
				"backend", chosen.Name(),
				"isolation", chosen.Isolation().String())
		default:
			return nil, ErrNoBackend
		}
	}
	return chosen, nil
}

// snapshot returns the current config and backend under the read lock.
func (e *engine) snapshot() (*Config, sandbox.Backend, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, nil, ErrEngineClosed
	}
	return e.cfg, e.backend, nil
}

// Execute implements Engine.
func (e *engine) Execute(ctx context.Context, script string, opts ...Option) (*ExecutionResult, error) {
	cfg, backend, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	merged := mergeCallOptions(opts)
	base := e.logger
	if merged.logger != nil {
		base = merged.logger
	}
	if merged.backend != nil {
		backend, err = overrideBackend(merged.backend, cfg.FallbackPolicy, base)
		if err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	logger := base.With("execution", id)

	semantic, tools, invoke, vetErr := e.vet(ctx, cfg, merged, script, logger)
	if vetErr != nil {
		return nil, vetErr
	}

	limits := mergeLimits(cfg.Limits, merged)
	job := &sandbox.Job{
		ID:     id,
		Script: script,
		Tools:  tools,
		Invoke: guardInvoker(tools, invoke, logger),
		Limits: limits,
	}

	if backend.Isolation() < sandbox.IsolationInterpreter {
		logger.Warn("running with degraded isolation", "backend", backend.Name())
	}

	res, err := backend.Execute(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", backend.Name(), err)
	}
	logger.Info("script executed",
		"backend", backend.Name(),
		"risk", semantic.Risk.String(),
		"duration", res.Duration,
		"ok", res.Err == "")
	return &ExecutionResult{
		ID:            id,
		Value:         res.Value,
		Err:           res.Err,
		Logs:          res.Logs,
		TruncatedLogs: res.TruncatedLogs,
		Duration:      res.Duration,
		Backend:       backend.Name(),
		Isolation:     backend.Isolation(),
	}, nil
}

// Check implements Engine. It runs the vetting stages only.
func (e *engine) Check(ctx context.Context, script string, opts ...Option) (*VetResult, error) {
	cfg, _, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	merged := mergeCallOptions(opts)

	analyzer := cfg.Analyzer
	if merged.analyzer != nil {
		analyzer = merged.analyzer
	}
	analysis := analyzer.Analyze(script)
	if !analysis.Valid {
		return &VetResult{Analysis: analysis}, nil
	}

	tools, _, err := resolveTools(ctx, cfg, merged)
	if err != nil {
		return nil, err
	}
	semantic := e.validateScript(cfg, merged, script, analysis, tools)
	return &VetResult{
		Analysis: analysis,
		Semantic: semantic,
		Approved: semantic.Approved,
	}, nil
}

// vet runs analysis and validation for Execute, returning the resolved
// tool catalog and invoker on success.
func (e *engine) vet(ctx context.Context, cfg *Config, merged *callOptions, script string, logger *slog.Logger) (*SemanticResult, []ToolDefinition, ToolInvoker, error) {
	analyzer := cfg.Analyzer
	if merged.analyzer != nil {
		analyzer = merged.analyzer
	}
	analysis := analyzer.Analyze(script)
	if !analysis.Valid {
		logger.Warn("script failed analysis", "violations", len(analysis.Violations))
		return nil, nil, nil, &ViolationError{Violations: analysis.Violations}
	}

	tools, invoke, err := resolveTools(ctx, cfg, merged)
	if err != nil {
		return nil, nil, nil, err
	}

	semantic := e.validateScript(cfg, merged, script, analysis, tools)
	if !semantic.Approved {
		logger.Warn("script rejected",
			"risk", semantic.Risk.String(),
			"reason", semantic.Reason)
		return nil, nil, nil, &RejectedError{
			Reason: semantic.Reason,
			Risk:   semantic.Risk,
			Result: semantic,
		}
	}
	return semantic, tools, invoke, nil
}

// validateScript runs the semantic validator against the per-execution
// context: the configured policy plus the namespaces of the live catalog.
func (e *engine) validateScript(cfg *Config, merged *callOptions, script string, analysis *AnalysisResult, tools []ToolDefinition) *SemanticResult {
	validator := cfg.Validator
	if merged.validator != nil {
		validator = merged.validator
	}
	policy := cfg.Policy
	if merged.policy != nil {
		policy = merged.policy
	}
	vctx := policy.clone()
	if vctx == nil {
		vctx = DefaultValidationContext()
	}
	vctx.AvailableNamespaces = namespacesOf(tools)
	if vctx.BuiltinNamespaces == nil {
		vctx.BuiltinNamespaces = cfg.builtinNamespaces()
	}
	return validator.Validate(script, analysis, vctx)
}

// resolveTools fetches the execution's tool catalog and invoker.
// Per-call options win over the configured source.
func resolveTools(ctx context.Context, cfg *Config, merged *callOptions) ([]ToolDefinition, ToolInvoker, error) {
	invoke := cfg.ToolExecutor
	if merged.toolExecutor != nil {
		invoke = merged.toolExecutor
	}
	if merged.tools != nil {
		if len(merged.tools) > 0 && invoke == nil {
			return nil, nil, fmt.Errorf("%w: tools supplied without a tool executor", ErrConfigInvalid)
		}
		return merged.tools, invoke, nil
	}
	if cfg.Tools == nil {
		return nil, nil, nil
	}
	tools, err := cfg.Tools.Tools(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tool catalog: %w", err)
	}
	return tools, invoke, nil
}

// guardInvoker wraps the real invoker so scripts can only reach tools
// declared in this execution's catalog. An undeclared call surfaces in
// the script as a catchable error.
func guardInvoker(tools []ToolDefinition, invoke ToolInvoker, logger *slog.Logger) ToolInvoker {
	if len(tools) == 0 || invoke == nil {
		return nil
	}
	declared := make(map[string]bool, len(tools))
	for _, t := range tools {
		declared[t.Name] = true
	}
	return func(ctx context.Context, name string, params map[string]any) (any, error) {
		if !declared[name] {
			return nil, &ToolError{Tool: name}
		}
		logger.Debug("tool call", "tool", name)
		return invoke(ctx, name, params)
	}
}

// mergeLimits applies per-call limit overrides to the configured limits.
func mergeLimits(base *Limits, merged *callOptions) Limits {
	limits := *base
	if merged.timeout > 0 {
		limits.Timeout = merged.timeout
	}
	if merged.maxMemoryBytes > 0 {
		limits.MaxMemoryBytes = merged.maxMemoryBytes
	}
	if merged.maxLogBytes > 0 {
		limits.MaxLogBytes = merged.maxLogBytes
	}
	return limits
}

// namespacesOf collects the distinct namespaces of a tool catalog.
func namespacesOf(tools []ToolDefinition) []string {
	seen := make(map[string]bool, len(tools))
	var out []string
	for _, t := range tools {
		ns := t.Namespace()
		if ns == "" || seen[ns] {
			continue
		}
		seen[ns] = true
		out = append(out, ns)
	}
	return out
}

// overrideBackend validates a per-call backend pin against the fallback
// policy.
func overrideBackend(b sandbox.Backend, policy FallbackPolicy, logger *slog.Logger) (sandbox.Backend, error) {
	if !b.Available() {
		return nil, ErrNoBackend
	}
	if b.Isolation() < sandbox.IsolationInterpreter {
		if policy != FallbackWarn {
			return nil, ErrNoBackend
		}
		logger.Warn("pinned backend has degraded isolation", "backend", b.Name())
	}
	return b, nil
}

// Available implements Engine.
func (e *engine) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.backend != nil && e.backend.Available()
}

// CheckDependencies implements Engine.
func (e *engine) CheckDependencies() *DependencyCheck {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return &DependencyCheck{Errors: []string{"no backend selected"}}
	}
	return e.backend.CheckDependencies()
}

// Isolation implements Engine.
func (e *engine) Isolation() IsolationLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return sandbox.IsolationNone
	}
	return e.backend.Isolation()
}

// UpdateConfig implements Engine. The new config is validated and
// applied atomically; it takes effect on the next Execute or Check.
// Backend selection is fixed at engine creation and is not revisited.
func (e *engine) UpdateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config must not be nil", ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfgCopy := deepCopyConfig(cfg)
	if cfgCopy.Policy == nil {
		cfgCopy.Policy = DefaultValidationContext()
	}
	if cfgCopy.Limits == nil {
		cfgCopy.Limits = DefaultLimits()
	}
	if cfgCopy.Analyzer == nil {
		cfgCopy.Analyzer = DefaultAnalyzer()
	}
	if cfgCopy.Validator == nil {
		cfgCopy.Validator = DefaultValidator()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.cfg = cfgCopy
	if cfgCopy.Logger != nil {
		e.logger = cfgCopy.Logger
	}
	return nil
}

// Cleanup implements Engine.
func (e *engine) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.closed = true
	if e.backend != nil {
		return e.backend.Cleanup(ctx)
	}
	return nil
}
