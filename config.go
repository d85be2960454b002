package scriptbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhangyunhao116/scriptbox/sandbox"
)

// unknownStr is the string representation for unknown enum values.
const unknownStr = "unknown"

// FallbackPolicy determines behavior when the preferred sandbox backends
// are unavailable on this host.
type FallbackPolicy int

const (
	// FallbackStrict refuses to run scripts unless a backend with at
	// least dedicated-interpreter isolation is available.
	FallbackStrict FallbackPolicy = iota

	// FallbackWarn runs scripts on the strongest available backend,
	// logging a warning when it is weaker than a dedicated interpreter.
	FallbackWarn
)

// String returns the string representation of a FallbackPolicy.
func (f FallbackPolicy) String() string {
	switch f {
	case FallbackStrict:
		return "strict"
	case FallbackWarn:
		return "warn"
	default:
		return unknownStr
	}
}

// Limits bounds a single script execution.
// It is an alias for sandbox.Limits.
type Limits = sandbox.Limits

// ToolDefinition describes one external capability a script may invoke.
// It is an alias for sandbox.ToolDefinition.
type ToolDefinition = sandbox.ToolDefinition

// ToolInvoker performs the real tool call outside the sandbox boundary.
// It is an alias for sandbox.ToolInvoker.
type ToolInvoker = sandbox.ToolInvoker

// DependencyCheck holds the result of a backend dependency check.
// It is an alias for sandbox.DependencyCheck.
type DependencyCheck = sandbox.DependencyCheck

// IsolationLevel describes sandbox isolation strength.
// It is an alias for sandbox.IsolationLevel.
type IsolationLevel = sandbox.IsolationLevel

// DefaultLimits returns the default execution limits.
func DefaultLimits() *Limits {
	return sandbox.DefaultLimits()
}

// DefaultBuiltinNamespaces are the engine-provided namespaces a script
// may always call without a catalog entry. They cover orchestrator
// discovery and introspection helpers.
var DefaultBuiltinNamespaces = []string{"discovery", "introspection", "scheduler"}

// ToolSource supplies the tool catalog for an execution. Catalogs are
// fetched fresh per execution so registry changes take effect without
// engine restarts.
type ToolSource interface {
	// Tools returns the current tool catalog.
	Tools(ctx context.Context) ([]ToolDefinition, error)
}

// StaticTools is a fixed in-memory tool catalog.
type StaticTools []ToolDefinition

// Tools implements ToolSource.
func (s StaticTools) Tools(ctx context.Context) ([]ToolDefinition, error) {
	return s, nil
}

// ScriptAnalyzer is the syntax-analysis stage of the pipeline. The
// default is the package Analyzer; tests and embedders may substitute
// their own.
type ScriptAnalyzer interface {
	Analyze(script string) *AnalysisResult
}

// ScriptValidator is the semantic-validation stage of the pipeline.
type ScriptValidator interface {
	Validate(script string, analysis *AnalysisResult, vctx *ValidationContext) *SemanticResult
}

// Config holds the complete configuration for an execution Engine.
type Config struct {
	// Tools supplies the tool catalog per execution. Nil means scripts
	// can only use builtin namespaces and plain JavaScript.
	Tools ToolSource

	// ToolExecutor dispatches bridged tool calls to the real tools.
	// Required when Tools is set.
	ToolExecutor ToolInvoker

	// Policy is the semantic-validation context applied to every
	// execution. If nil, DefaultValidationContext() is used. The
	// available-namespace set is derived from the catalog per execution
	// and does not need to be filled in here.
	Policy *ValidationContext

	// Limits bounds each execution. If nil, DefaultLimits() is used.
	Limits *Limits

	// BuiltinNamespaces overrides DefaultBuiltinNamespaces when non-nil.
	BuiltinNamespaces []string

	// FallbackPolicy determines behavior when only weak backends are
	// available.
	FallbackPolicy FallbackPolicy

	// Logger is the structured logger for operational messages such as
	// backend fallback warnings, rejection diagnostics, and cleanup
	// errors. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Analyzer overrides the default syntax analyzer when non-nil.
	Analyzer ScriptAnalyzer

	// Validator overrides the default semantic validator when non-nil.
	Validator ScriptValidator
}

// DefaultConfig returns a Config with secure defaults: default limits,
// medium risk ceiling, no direct network access, strict fallback.
func DefaultConfig() *Config {
	return &Config{
		Policy:         DefaultValidationContext(),
		Limits:         DefaultLimits(),
		FallbackPolicy: FallbackStrict,
	}
}

// DevelopmentConfig returns a Config suitable for local development.
// It uses FallbackWarn so scripts still run on weak backends, raises the
// risk ceiling to high, and permits direct network constructs.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.FallbackPolicy = FallbackWarn
	cfg.Policy.MaxRiskLevel = RiskHigh
	cfg.Policy.AllowNetwork = true
	return cfg
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid. The returned error wraps ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []string

	if c.Tools != nil && c.ToolExecutor == nil {
		errs = append(errs, "ToolExecutor: required when Tools is set")
	}
	if c.Limits != nil {
		if err := c.Limits.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("Limits: %v", err))
		}
	}
	if c.Policy != nil {
		if c.Policy.MaxRiskLevel < RiskLow || c.Policy.MaxRiskLevel > RiskCritical {
			errs = append(errs, "Policy.MaxRiskLevel: invalid value")
		}
	}
	if c.FallbackPolicy < FallbackStrict || c.FallbackPolicy > FallbackWarn {
		errs = append(errs, "FallbackPolicy: invalid value")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// deepCopyConfig returns a deep copy of cfg. Interface fields (Tools,
// ToolExecutor, Analyzer, Validator, Logger) are shared by reference;
// everything else is copied so later caller mutations cannot affect a
// running engine.
func deepCopyConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.Policy = cfg.Policy.clone()
	if cfg.Limits != nil {
		limits := *cfg.Limits
		out.Limits = &limits
	}
	out.BuiltinNamespaces = append([]string(nil), cfg.BuiltinNamespaces...)
	return &out
}

// builtinNamespaces returns the effective builtin set for this config.
func (c *Config) builtinNamespaces() []string {
	if c.BuiltinNamespaces != nil {
		return c.BuiltinNamespaces
	}
	return DefaultBuiltinNamespaces
}
