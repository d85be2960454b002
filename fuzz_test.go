package scriptbox

import (
	"testing"
)

// FuzzAnalyze exercises the syntax analyzer with arbitrary script text.
// The analyzer must never panic and must never report a syntactically
// broken script as valid.
func FuzzAnalyze(f *testing.F) {
	// Seed corpus covering dangerous constructs, benign scripts, and
	// parser edge cases.
	seeds := []string{
		`return 1 + 1;`,
		`return eval("x");`,
		`const o = {}; o.__proto__.x = 1;`,
		`Array.prototype.map = null;`,
		`require("fs");`,
		`require("child_process");`,
		`process.exit(1);`,
		`globalThis.x = 1;`,
		`Object.defineProperty({}, "p", {});`,
		`new Proxy({}, {});`,
		`notes.list({ limit: 5 });`,
		`fetch("https://example.com");`,
		`new WebSocket("wss://example.com");`,
		"const o = {}; o[`__proto__`].x = 1;",
		`x.constructor("code")();`,
		``,
		`return 1 +;`,
		`{{{{`,
		"\x00",
		`/* unterminated`,
		`const await = 1;`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	a := NewAnalyzer()
	f.Fuzz(func(t *testing.T, script string) {
		res := a.Analyze(script)
		if res == nil {
			t.Fatal("Analyze returned nil")
		}
		if res.Valid && len(res.Violations) > 0 {
			t.Errorf("valid result carries violations: %v", res.Violations)
		}
		if !res.Valid && len(res.Violations) == 0 {
			t.Error("invalid result carries no violations")
		}
	})
}

// FuzzValidate pairs arbitrary scripts with the default context. The
// validator must never panic, whatever the analyzer produced.
func FuzzValidate(f *testing.F) {
	seeds := []string{
		`return notes.list({});`,
		`vault.getSecret({}); webhook.send({});`,
		`db.truncateTable({ name: "users" });`,
		`shell.execCommand({ cmd: "ls" });`,
		`scheduler.scheduleTask({});`,
		`return 42;`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	a := NewAnalyzer()
	v := NewValidator()
	f.Fuzz(func(t *testing.T, script string) {
		analysis := a.Analyze(script)
		res := v.Validate(script, analysis, DefaultValidationContext())
		if res == nil {
			t.Fatal("Validate returned nil")
		}
		if !res.Approved && res.Reason == "" && analysis.Valid {
			t.Error("rejection without a reason")
		}
	})
}
