package scriptbox

import "time"

// ExecutionResult holds the outcome of a sandboxed script execution.
type ExecutionResult struct {
	// ID is the unique execution identifier, also present on every log
	// line the engine emits for this run.
	ID string

	// Value is the script's return value exported to plain Go values.
	// Values that crossed a process boundary have JSON number semantics.
	Value any

	// Err describes a script-scoped failure (runtime error, timeout,
	// memory breach). Empty on success.
	Err string

	// Logs contains the captured console output, one entry per write,
	// in call order.
	Logs []string

	// TruncatedLogs indicates console output hit the log byte limit.
	TruncatedLogs bool

	// Duration is the wall-clock time of the sandbox run, excluding
	// analysis and validation.
	Duration time.Duration

	// Backend names the sandbox backend that ran the script.
	Backend string

	// Isolation is the isolation strength the script ran under.
	Isolation IsolationLevel
}

// OK reports whether the script completed without a script-scoped error.
func (r *ExecutionResult) OK() bool {
	return r.Err == ""
}

// VetResult holds the outcome of a dry-run Check: the syntax analysis
// and, when the script parsed cleanly, the semantic validation.
type VetResult struct {
	// Analysis is the syntax-analysis outcome. Never nil.
	Analysis *AnalysisResult

	// Semantic is the validation outcome. Nil when analysis failed.
	Semantic *SemanticResult

	// Approved is true when the script would be admitted for execution.
	Approved bool
}
