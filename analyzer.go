package scriptbox

import (
	"fmt"
	"sync"

	"github.com/dop251/goja/parser"

	"github.com/zhangyunhao116/scriptbox/sandbox"
)

// ViolationType identifies a class of forbidden construct found by the
// syntax analyzer.
type ViolationType string

const (
	// ViolationEval is dynamic code evaluation: eval or the Function
	// constructor.
	ViolationEval ViolationType = "eval-usage"

	// ViolationPrototypePollution is any access to __proto__ or an
	// assignment through a prototype property.
	ViolationPrototypePollution ViolationType = "prototype-pollution"

	// ViolationConstructorAccess is invoking a constructor property to
	// reach a function's constructor chain.
	ViolationConstructorAccess ViolationType = "constructor-access"

	// ViolationRequireImport is use of require or dynamic import for a
	// module outside the recognized dangerous sets.
	ViolationRequireImport ViolationType = "require-import"

	// ViolationFSAccess is requiring a filesystem module.
	ViolationFSAccess ViolationType = "fs-access"

	// ViolationChildProcess is requiring a process-spawning module.
	ViolationChildProcess ViolationType = "child-process"

	// ViolationProcessAccess is touching the process global.
	ViolationProcessAccess ViolationType = "process-access"

	// ViolationGlobalAccess is touching host-environment globals such as
	// globalThis, window, or __dirname.
	ViolationGlobalAccess ViolationType = "global-access"

	// ViolationDescriptorManipulation is use of Object property-descriptor
	// or prototype-chain manipulation APIs.
	ViolationDescriptorManipulation ViolationType = "descriptor-manipulation"

	// ViolationMetaprogramming is use of reflection primitives such as
	// Reflect, Proxy, or Symbol.
	ViolationMetaprogramming ViolationType = "metaprogramming"

	// ViolationParseFailure means the script is not syntactically valid
	// JavaScript at all.
	ViolationParseFailure ViolationType = "parse-failure"
)

// SecurityViolation is one forbidden construct found in a script.
type SecurityViolation struct {
	// Type classifies the violation.
	Type ViolationType

	// Message describes the concrete construct found.
	Message string

	// Line and Column locate the construct in the script, 1-based.
	Line   int
	Column int
}

func (v SecurityViolation) String() string {
	return fmt.Sprintf("%s at %d:%d: %s", v.Type, v.Line, v.Column, v.Message)
}

// ToolCallSite is one namespace.method(...) call found in a script.
type ToolCallSite struct {
	// Namespace and Method name the tool as written.
	Namespace string
	Method    string

	// Tool is the qualified "namespace:method" name.
	Tool string

	// Line and Column locate the call, 1-based.
	Line   int
	Column int

	// ArgCount is the number of arguments at the call site.
	ArgCount int
}

// NetworkCallSite is one direct network construct found in a script.
// Direct network calls are not violations at this stage; the semantic
// validator decides whether policy allows them.
type NetworkCallSite struct {
	// Construct names what was found, e.g. "fetch" or "new WebSocket".
	Construct string

	// Line and Column locate the construct, 1-based.
	Line   int
	Column int
}

// AnalysisResult is the outcome of syntax analysis.
type AnalysisResult struct {
	// Valid is true when the script parsed and no violations were found.
	Valid bool

	// Violations lists every forbidden construct, ordered by position.
	Violations []SecurityViolation

	// ToolCalls catalogs every namespace.method call site, ordered by
	// position. Populated even when the script is invalid, as far as
	// parsing got.
	ToolCalls []ToolCallSite

	// NetworkCalls lists direct network constructs for the validator.
	NetworkCalls []NetworkCallSite
}

// Analyzer performs static analysis of untrusted scripts. Analysis is
// purely syntactic: the script is parsed, never executed. The zero value
// is not usable; call NewAnalyzer.
type Analyzer struct {
	skipNamespaces map[string]bool
}

// NewAnalyzer returns an analyzer with the default rule set.
func NewAnalyzer() *Analyzer {
	return &Analyzer{skipNamespaces: builtinObjectNames}
}

// Analyze parses the script and walks its AST, collecting violations and
// cataloging tool call sites. A script that does not parse yields a
// single parse-failure violation.
//
// The script is parsed inside the same async wrapper the backends run,
// so top-level return and await are legal and analysis inspects exactly
// the program that would execute. Reported positions are relative to
// the unwrapped script.
func (a *Analyzer) Analyze(script string) *AnalysisResult {
	prog, err := parser.ParseFile(nil, "script.js", sandbox.WrapScript(script), 0)
	if err != nil {
		return &AnalysisResult{
			Valid: false,
			Violations: []SecurityViolation{{
				Type:    ViolationParseFailure,
				Message: err.Error(),
				Line:    1,
				Column:  1,
			}},
		}
	}
	v := newAstVisitor(a, prog)
	v.walk()
	return v.result()
}

var (
	defaultAnalyzerOnce sync.Once
	defaultAnalyzer     *Analyzer
)

// DefaultAnalyzer returns the shared analyzer with the default rule set.
func DefaultAnalyzer() *Analyzer {
	defaultAnalyzerOnce.Do(func() {
		defaultAnalyzer = NewAnalyzer()
	})
	return defaultAnalyzer
}

// Analyze runs syntax analysis with the default analyzer.
func Analyze(script string) *AnalysisResult {
	return DefaultAnalyzer().Analyze(script)
}
