package scriptbox

import (
	"testing"
	"time"
)

func TestExecutionResultZeroValue(t *testing.T) {
	var r ExecutionResult
	if r.ID != "" {
		t.Errorf("ID zero value: got %q", r.ID)
	}
	if r.Value != nil {
		t.Errorf("Value zero value: got %v", r.Value)
	}
	if !r.OK() {
		t.Error("zero value should be OK, Err is empty")
	}
	if r.Logs != nil {
		t.Errorf("Logs zero value: got %v", r.Logs)
	}
	if r.TruncatedLogs {
		t.Error("TruncatedLogs zero value: got true")
	}
	if r.Duration != 0 {
		t.Errorf("Duration zero value: got %v", r.Duration)
	}
}

func TestExecutionResultOK(t *testing.T) {
	r := ExecutionResult{
		ID:       "exec-1",
		Value:    int64(42),
		Logs:     []string{"started"},
		Duration: 5 * time.Millisecond,
		Backend:  "interpreter",
	}
	if !r.OK() {
		t.Error("OK: got false, want true")
	}

	r.Err = "execution timed out after 5s"
	if r.OK() {
		t.Error("OK with Err set: got true, want false")
	}
}

func TestVetResultFields(t *testing.T) {
	vr := VetResult{
		Analysis: &AnalysisResult{Valid: true},
		Semantic: &SemanticResult{Approved: true, Risk: RiskLow},
		Approved: true,
	}
	if !vr.Approved || vr.Analysis == nil || vr.Semantic == nil {
		t.Errorf("VetResult = %+v", vr)
	}
}
