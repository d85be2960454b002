package sandbox

import (
	"strings"
	"testing"
)

func TestNewRuntimeHardens(t *testing.T) {
	vm, err := newRuntime()
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}

	v, err := vm.RunString(`typeof eval`)
	if err != nil {
		t.Fatalf("typeof eval: %v", err)
	}
	if got := v.String(); got != "undefined" {
		t.Errorf("typeof eval = %q, want undefined", got)
	}

	if _, err := vm.RunString(`new Function("return 1")()`); err == nil {
		t.Error("Function constructor still usable")
	} else if !strings.Contains(err.Error(), "dynamic code evaluation") {
		t.Errorf("Function constructor error = %v", err)
	}

	v, err = vm.RunString(`Object.isFrozen(Object.prototype) && Object.isFrozen(Array.prototype) && Object.isFrozen(String.prototype)`)
	if err != nil {
		t.Fatalf("isFrozen check: %v", err)
	}
	if !v.ToBoolean() {
		t.Error("intrinsic prototypes not frozen")
	}
}

func TestNewRuntimeInstancesIndependent(t *testing.T) {
	a, err := newRuntime()
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	b, err := newRuntime()
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	if _, err := a.RunString(`var marker = "a";`); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	v, err := b.RunString(`typeof marker`)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if got := v.String(); got != "undefined" {
		t.Errorf("marker leaked across runtimes: typeof = %q", got)
	}
}
