package sandbox

import (
	"testing"
	"time"
)

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  *Limits
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			limits:  DefaultLimits(),
			wantErr: false,
		},
		{
			name:    "zero timeout rejected",
			limits:  &Limits{Timeout: 0},
			wantErr: true,
		},
		{
			name:    "negative timeout rejected",
			limits:  &Limits{Timeout: -time.Second},
			wantErr: true,
		},
		{
			name:    "negative memory rejected",
			limits:  &Limits{Timeout: time.Second, MaxMemoryBytes: -1},
			wantErr: true,
		},
		{
			name:    "nil limits rejected",
			limits:  nil,
			wantErr: true,
		},
		{
			name:    "zero optional fields allowed",
			limits:  &Limits{Timeout: time.Second},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLimitsWithDefaults(t *testing.T) {
	got := Limits{Timeout: time.Second}.withDefaults()
	if got.MaxMemoryBytes != DefaultMaxMemoryBytes {
		t.Errorf("MaxMemoryBytes = %d, want default", got.MaxMemoryBytes)
	}
	if got.MaxLogBytes != DefaultMaxLogBytes {
		t.Errorf("MaxLogBytes = %d, want default", got.MaxLogBytes)
	}
	if got.Timeout != time.Second {
		t.Errorf("Timeout changed to %v", got.Timeout)
	}
}

func TestToolDefinitionNameParts(t *testing.T) {
	tests := []struct {
		name          string
		tool          string
		wantNamespace string
		wantMethod    string
	}{
		{name: "qualified", tool: "notes:list", wantNamespace: "notes", wantMethod: "list"},
		{name: "unqualified", tool: "notes", wantNamespace: "notes", wantMethod: ""},
		{name: "empty method", tool: "notes:", wantNamespace: "notes", wantMethod: ""},
		{name: "extra colon stays in method", tool: "a:b:c", wantNamespace: "a", wantMethod: "b:c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ToolDefinition{Name: tt.tool}
			if got := d.Namespace(); got != tt.wantNamespace {
				t.Errorf("Namespace() = %q, want %q", got, tt.wantNamespace)
			}
			if got := d.Method(); got != tt.wantMethod {
				t.Errorf("Method() = %q, want %q", got, tt.wantMethod)
			}
		})
	}
}

func TestDetectOrderedStrongestFirst(t *testing.T) {
	backends := Detect()
	if len(backends) == 0 {
		t.Fatal("Detect() returned no backends")
	}
	for i := 1; i < len(backends); i++ {
		if backends[i].Isolation() > backends[i-1].Isolation() {
			t.Errorf("backend %s (%s) listed after weaker %s (%s)",
				backends[i].Name(), backends[i].Isolation(),
				backends[i-1].Name(), backends[i-1].Isolation())
		}
	}
}

func TestSelectNeverNil(t *testing.T) {
	b := Select()
	if b == nil {
		t.Fatal("Select() returned nil")
	}
	if !b.Available() {
		t.Errorf("Select() returned unavailable backend %s", b.Name())
	}
}

func TestIsolationLevelString(t *testing.T) {
	levels := map[IsolationLevel]string{
		IsolationNone:        "none",
		IsolationInline:      "inline",
		IsolationWorker:      "worker",
		IsolationInterpreter: "interpreter",
		IsolationProcess:     "process",
		IsolationLevel(99):   "unknown",
	}
	for level, want := range levels {
		if got := level.String(); got != want {
			t.Errorf("IsolationLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestJobValidate(t *testing.T) {
	valid := &Job{
		Script: "return 1",
		Limits: Limits{Timeout: time.Second},
	}
	if err := valid.validate(); err != nil {
		t.Errorf("validate() = %v for valid job", err)
	}

	missingInvoker := &Job{
		Script: "return 1",
		Tools:  []ToolDefinition{{Name: "notes:list"}},
		Limits: Limits{Timeout: time.Second},
	}
	if err := missingInvoker.validate(); err == nil {
		t.Error("validate() accepted tools without an invoker")
	}

	noTimeout := &Job{Script: "return 1"}
	if err := noTimeout.validate(); err == nil {
		t.Error("validate() accepted a job without a timeout")
	}
}
