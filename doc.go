// Package scriptbox provides a secure execution engine for untrusted
// agent scripts.
//
// An AI agent submits a JavaScript program that calls external tools as
// namespace.method(args). The engine statically analyzes the script for
// dangerous constructs, classifies the intent and risk of every tool
// call, and only then runs the script inside the strongest sandbox
// backend available on the host (isolated process, dedicated
// interpreter, isolated worker, or in-process restricted evaluator).
// Tool calls are bridged back to the embedding application, so the
// script itself never holds credentials or network access.
//
// Key features:
//   - AST-level rejection of eval, prototype pollution, module loading,
//     and host-global access
//   - Intent classification with graded risk levels and policy ceilings
//   - Capability-probed backends with automatic fallback
//   - Wall-clock, memory, and log-volume limits on every run
//   - Minimal external dependencies, no CGo
//
// Basic usage:
//
//	cfg := scriptbox.DefaultConfig()
//	cfg.Tools = scriptbox.StaticTools{{Name: "notes:list"}}
//	cfg.ToolExecutor = myInvoker
//	eng, err := scriptbox.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Cleanup(context.Background())
//
//	result, err := eng.Execute(ctx, "return notes.list({})")
package scriptbox
