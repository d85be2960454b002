package scriptbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Policy == nil {
		t.Fatal("Policy: got nil")
	}
	if cfg.Policy.MaxRiskLevel != RiskMedium {
		t.Errorf("Policy.MaxRiskLevel: got %v, want RiskMedium", cfg.Policy.MaxRiskLevel)
	}
	if cfg.Policy.AllowNetwork {
		t.Error("Policy.AllowNetwork: got true, want false")
	}
	if !cfg.Policy.AllowScheduling {
		t.Error("Policy.AllowScheduling: got false, want true")
	}
	if cfg.Limits == nil {
		t.Fatal("Limits: got nil")
	}
	if cfg.Limits.Timeout != 30*time.Second {
		t.Errorf("Limits.Timeout: got %v, want 30s", cfg.Limits.Timeout)
	}
	if cfg.FallbackPolicy != FallbackStrict {
		t.Errorf("FallbackPolicy: got %v, want FallbackStrict", cfg.FallbackPolicy)
	}
	if cfg.Tools != nil {
		t.Error("Tools: got non-nil, want nil")
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error: %v", err)
	}
}

func TestDevelopmentConfig(t *testing.T) {
	cfg := DevelopmentConfig()

	if cfg == nil {
		t.Fatal("DevelopmentConfig() returned nil")
	}
	if cfg.FallbackPolicy != FallbackWarn {
		t.Errorf("FallbackPolicy: got %v, want FallbackWarn", cfg.FallbackPolicy)
	}
	if cfg.Policy.MaxRiskLevel != RiskHigh {
		t.Errorf("Policy.MaxRiskLevel: got %v, want RiskHigh", cfg.Policy.MaxRiskLevel)
	}
	if !cfg.Policy.AllowNetwork {
		t.Error("Policy.AllowNetwork: got false, want true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DevelopmentConfig().Validate() error: %v", err)
	}
}

func TestValidateToolsRequireExecutor(t *testing.T) {
	cfg := &Config{
		Tools: StaticTools{{Name: "notes:list"}},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error when Tools is set without ToolExecutor")
	}
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("error should wrap ErrConfigInvalid, got: %v", err)
	}
}

func TestValidateInvalidLimits(t *testing.T) {
	cfg := &Config{
		Limits: &Limits{Timeout: 0},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for zero Timeout")
	}
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("error should wrap ErrConfigInvalid, got: %v", err)
	}
}

func TestValidateInvalidRiskLevel(t *testing.T) {
	cfg := &Config{
		Policy: &ValidationContext{MaxRiskLevel: RiskLevel(99)},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for out-of-range MaxRiskLevel")
	}
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("error should wrap ErrConfigInvalid, got: %v", err)
	}
}

func TestValidateInvalidFallbackPolicy(t *testing.T) {
	for _, fp := range []FallbackPolicy{FallbackPolicy(-1), FallbackPolicy(99)} {
		cfg := &Config{FallbackPolicy: fp}
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("Validate() should return error for FallbackPolicy %d", fp)
		}
		if !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("error should wrap ErrConfigInvalid, got: %v", err)
		}
	}
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := &Config{
		Tools:          StaticTools{{Name: "notes:list"}},
		Limits:         &Limits{Timeout: -time.Second},
		FallbackPolicy: FallbackPolicy(99),
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for multiple invalid fields")
	}
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("error should wrap ErrConfigInvalid, got: %v", err)
	}
	// The message should carry all issues.
	msg := err.Error()
	if len(msg) < 50 {
		t.Errorf("error message seems too short for multiple errors: %q", msg)
	}
}

func TestDeepCopyConfig(t *testing.T) {
	orig := DefaultConfig()
	orig.Policy.BlockedTools = []string{"notes:delete"}
	orig.BuiltinNamespaces = []string{"discovery"}

	cp := deepCopyConfig(orig)

	// Mutate the copy and verify the original is unchanged.
	cp.Policy.BlockedTools[0] = "changed"
	cp.Policy.MaxRiskLevel = RiskCritical
	cp.Limits.Timeout = time.Minute
	cp.BuiltinNamespaces[0] = "changed"

	if orig.Policy.BlockedTools[0] != "notes:delete" {
		t.Error("deepCopyConfig aliased Policy.BlockedTools")
	}
	if orig.Policy.MaxRiskLevel != RiskMedium {
		t.Error("deepCopyConfig aliased Policy")
	}
	if orig.Limits.Timeout != 30*time.Second {
		t.Error("deepCopyConfig aliased Limits")
	}
	if orig.BuiltinNamespaces[0] != "discovery" {
		t.Error("deepCopyConfig aliased BuiltinNamespaces")
	}
}

func TestBuiltinNamespaces(t *testing.T) {
	cfg := &Config{}
	got := cfg.builtinNamespaces()
	if len(got) != len(DefaultBuiltinNamespaces) {
		t.Errorf("builtinNamespaces: got %v, want defaults", got)
	}

	cfg.BuiltinNamespaces = []string{}
	if got := cfg.builtinNamespaces(); len(got) != 0 {
		t.Errorf("explicit empty set should win: got %v", got)
	}

	cfg.BuiltinNamespaces = []string{"custom"}
	got = cfg.builtinNamespaces()
	if len(got) != 1 || got[0] != "custom" {
		t.Errorf("builtinNamespaces: got %v", got)
	}
}

func TestStaticTools(t *testing.T) {
	src := StaticTools{
		{Name: "notes:list"},
		{Name: "notes:create"},
	}

	tools, err := src.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "notes:list" {
		t.Errorf("Tools() = %+v", tools)
	}
}

func TestFallbackPolicyString(t *testing.T) {
	tests := []struct {
		policy FallbackPolicy
		want   string
	}{
		{FallbackStrict, "strict"},
		{FallbackWarn, "warn"},
		{FallbackPolicy(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.policy.String(); got != tt.want {
				t.Errorf("FallbackPolicy(%d).String() = %q, want %q", tt.policy, got, tt.want)
			}
		})
	}
}
