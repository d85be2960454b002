package scriptbox

import (
	"strings"
	"sync"
)

// RiskLevel grades how much harm a script could do through its declared
// tool usage. Levels are ordered; an execution policy names the highest
// level it will run.
type RiskLevel int

const (
	// RiskLow covers read-only data access.
	RiskLow RiskLevel = iota

	// RiskMedium covers data creation and mutation.
	RiskMedium

	// RiskHigh covers deletion, credential access, and direct network
	// traffic.
	RiskHigh

	// RiskCritical covers destructive bulk operations, privileged
	// execution surfaces, and exfiltration patterns.
	RiskCritical
)

// String returns the string representation of a RiskLevel.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return unknownStr
	}
}

// IntentType classifies what a tool call is trying to do.
type IntentType string

const (
	// IntentDataRead is read-only data access.
	IntentDataRead IntentType = "data-read"

	// IntentDataWrite creates or mutates data.
	IntentDataWrite IntentType = "data-write"

	// IntentDataDelete removes data.
	IntentDataDelete IntentType = "data-delete"

	// IntentScheduling defers or repeats work.
	IntentScheduling IntentType = "scheduling"

	// IntentNetwork sends data off the host, through a tool or directly.
	IntentNetwork IntentType = "network"

	// IntentToolCall is a tool invocation with no more specific class.
	IntentToolCall IntentType = "tool-call"
)

// Intent is the classified purpose of one call site.
type Intent struct {
	// Type classifies the intent.
	Type IntentType

	// Tool is the qualified tool name, or the network construct for
	// direct network intents.
	Tool string

	// Risk is the risk contributed by this intent alone.
	Risk RiskLevel

	// Evidence is the source line the intent was derived from.
	Evidence string

	// Line locates the call site, 1-based.
	Line int
}

// SemanticResult is the outcome of semantic validation.
type SemanticResult struct {
	// Approved is true when the script may proceed to execution under
	// the supplied context.
	Approved bool

	// Risk is the overall risk level, the maximum across intents and
	// composite patterns.
	Risk RiskLevel

	// Reason explains a rejection; empty when approved.
	Reason string

	// Intents lists every classified call site in source order.
	Intents []Intent

	// Recommendations are non-blocking hints, e.g. batching advice.
	Recommendations []string
}

// ValidationContext is the policy a script is validated against. The
// zero value rejects everything risky; use DefaultValidationContext for
// sensible defaults.
type ValidationContext struct {
	// AvailableNamespaces are the tool namespaces in this execution's
	// catalog. Calls outside them (and BuiltinNamespaces) are rejected.
	AvailableNamespaces []string

	// BuiltinNamespaces are engine-provided namespaces that need no
	// catalog entry.
	BuiltinNamespaces []string

	// AllowedTools, when non-empty, restricts calls to the listed
	// qualified tool names or bare namespaces.
	AllowedTools []string

	// BlockedTools lists qualified tool names or bare namespaces that
	// are always rejected, before any other check.
	BlockedTools []string

	// MaxRiskLevel is the highest risk this context will run.
	MaxRiskLevel RiskLevel

	// AllowScheduling permits scheduling intents.
	AllowScheduling bool

	// AllowNetwork permits direct network constructs and network-send
	// tool intents.
	AllowNetwork bool
}

// DefaultValidationContext returns the default policy: medium risk
// ceiling, scheduling allowed, direct network traffic denied.
func DefaultValidationContext() *ValidationContext {
	return &ValidationContext{
		BuiltinNamespaces: append([]string(nil), DefaultBuiltinNamespaces...),
		MaxRiskLevel:      RiskMedium,
		AllowScheduling:   true,
		AllowNetwork:      false,
	}
}

// clone returns a deep copy of the context.
func (c *ValidationContext) clone() *ValidationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.AvailableNamespaces = append([]string(nil), c.AvailableNamespaces...)
	out.BuiltinNamespaces = append([]string(nil), c.BuiltinNamespaces...)
	out.AllowedTools = append([]string(nil), c.AllowedTools...)
	out.BlockedTools = append([]string(nil), c.BlockedTools...)
	return &out
}

// Validator performs semantic validation of analyzed scripts.
type Validator struct{}

// NewValidator returns a validator with the default rule set.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate classifies every call site from the analysis and decides
// whether the script may run under vctx. The script source is used only
// to extract evidence lines.
func (v *Validator) Validate(script string, analysis *AnalysisResult, vctx *ValidationContext) *SemanticResult {
	if vctx == nil {
		vctx = DefaultValidationContext()
	}
	lines := strings.Split(script, "\n")
	return validateRules(lines, analysis, vctx)
}

var (
	defaultValidatorOnce sync.Once
	defaultValidator     *Validator
)

// DefaultValidator returns the shared validator with the default rules.
func DefaultValidator() *Validator {
	defaultValidatorOnce.Do(func() {
		defaultValidator = NewValidator()
	})
	return defaultValidator
}

// Validate runs semantic validation with the default validator.
func Validate(script string, analysis *AnalysisResult, vctx *ValidationContext) *SemanticResult {
	return DefaultValidator().Validate(script, analysis, vctx)
}

// sourceLine returns the trimmed 1-based line, or "" out of range.
func sourceLine(lines []string, n int) string {
	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}
