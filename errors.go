package scriptbox

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the scriptbox package.
var (
	// ErrConfigInvalid indicates the provided configuration failed validation.
	ErrConfigInvalid = errors.New("scriptbox: invalid configuration")

	// ErrEngineClosed indicates the engine has already been closed via Cleanup.
	ErrEngineClosed = errors.New("scriptbox: engine already closed")

	// ErrScriptInvalid indicates the script failed syntax analysis, either
	// because it does not parse or because it uses forbidden constructs.
	ErrScriptInvalid = errors.New("scriptbox: script failed analysis")

	// ErrScriptRejected indicates the script parsed cleanly but was
	// rejected by semantic validation.
	ErrScriptRejected = errors.New("scriptbox: script rejected by policy")

	// ErrNoBackend indicates no sandbox backend satisfies the configured
	// fallback policy on this host.
	ErrNoBackend = errors.New("scriptbox: no suitable sandbox backend")

	// ErrToolUnavailable indicates a script invoked a tool that is not in
	// its execution's tool catalog.
	ErrToolUnavailable = errors.New("scriptbox: tool not available")
)

// ViolationError is returned when a script fails syntax analysis.
// It wraps ErrScriptInvalid so that errors.Is(err, ErrScriptInvalid) still works.
type ViolationError struct {
	// Violations holds every violation found, in source order.
	Violations []SecurityViolation
}

func (e *ViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrScriptInvalid.Error()
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s: %s", ErrScriptInvalid.Error(), strings.Join(parts, "; "))
}

func (e *ViolationError) Unwrap() error {
	return ErrScriptInvalid
}

// RejectedError is returned when semantic validation rejects a script.
// It wraps ErrScriptRejected so that errors.Is(err, ErrScriptRejected) still works.
type RejectedError struct {
	// Reason explains why the script was rejected.
	Reason string
	// Risk is the risk level assigned to the script.
	Risk RiskLevel
	// Result carries the full semantic analysis for diagnosis.
	Result *SemanticResult
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s (risk %s)", ErrScriptRejected.Error(), e.Reason, e.Risk)
}

func (e *RejectedError) Unwrap() error {
	return ErrScriptRejected
}

// ToolError is returned through the bridge when a script invokes a tool
// outside its catalog. It wraps ErrToolUnavailable.
type ToolError struct {
	// Tool is the qualified tool name the script asked for.
	Tool string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %q", ErrToolUnavailable.Error(), e.Tool)
}

func (e *ToolError) Unwrap() error {
	return ErrToolUnavailable
}
