package scriptbox

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Intent classification tables
// ---------------------------------------------------------------------------

// Verb tables are matched against the method part of a tool name, on a
// word boundary ("get", "get_user", "getUser" all match "get").
var (
	readVerbs  = []string{"list", "get", "read", "query", "search", "fetch", "find", "describe", "count"}
	writeVerbs = []string{"create", "update", "insert", "add", "set", "write", "put", "append", "upsert"}

	deleteVerbs = []string{"delete", "remove", "drop", "clear"}

	// destructiveVerbs are bulk or irreversible forms that escalate past
	// an ordinary delete.
	destructiveVerbs = []string{
		"truncate", "purge", "wipe", "destroy",
		"delete_all", "deleteAll", "remove_all", "removeAll", "drop_all", "dropAll",
	}

	// networkSendVerbs move data off the host through a tool.
	networkSendVerbs = []string{"send", "post", "upload", "publish", "submit"}
)

// schedulingNamespaces defer or repeat work.
var schedulingNamespaces = map[string]bool{
	"schedule":  true,
	"scheduler": true,
	"cron":      true,
	"timer":     true,
	"timers":    true,
}

// networkToolNamespaces send traffic off the host by nature, whatever
// the method is called.
var networkToolNamespaces = map[string]bool{
	"http":    true,
	"webhook": true,
	"smtp":    true,
	"mail":    true,
	"email":   true,
}

// highPrivKeywords mark namespaces that expose arbitrary execution or
// administrative surfaces. Matched against whole namespace words, so
// "admin_panel" qualifies but "ecosystem" does not.
var highPrivKeywords = []string{"shell", "exec", "terminal", "system", "ssh", "admin", "sudo"}

// remoteShellNamespaces are outright attack tooling names.
var remoteShellNamespaces = map[string]bool{
	"reverse_shell": true,
	"remote_shell":  true,
	"backdoor":      true,
	"rat":           true,
}

// credentialKeywords mark tools that touch secret material. Matched as
// substrings of the namespace or method.
var credentialKeywords = []string{
	"secret", "credential", "password", "token", "vault", "keychain",
	"api_key", "apikey", "private_key", "privatekey",
}

// batchRecommendThreshold is the write-intent count past which the
// validator suggests batching.
const batchRecommendThreshold = 4

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// verbMatch reports whether method starts with verb on a word boundary.
func verbMatch(method, verb string) bool {
	if len(method) < len(verb) || !strings.EqualFold(method[:len(verb)], verb) {
		return false
	}
	if len(method) == len(verb) {
		return true
	}
	c := method[len(verb)]
	return c == '_' || c == '-' || (c >= 'A' && c <= 'Z')
}

func anyVerbMatch(method string, verbs []string) bool {
	for _, v := range verbs {
		if verbMatch(method, v) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// nsKeywordMatch reports whether any word of the namespace equals one of
// the keywords. Words split on '_', '-', '.', and camelCase boundaries.
func nsKeywordMatch(namespace string, keywords []string) bool {
	for _, w := range splitWords(namespace) {
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

func splitWords(s string) []string {
	var words []string
	start := 0
	flush := func(end int) {
		if end > start {
			words = append(words, strings.ToLower(s[start:end]))
		}
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '-' || r == '.':
			flush(i)
			start = i + 1
		case r >= 'A' && r <= 'Z':
			flush(i)
			start = i
		}
	}
	flush(len(s))
	return words
}

// isCredentialTool reports whether a tool touches secret material.
func isCredentialTool(namespace, method string) bool {
	joined := strings.ToLower(namespace) + " " + strings.ToLower(method)
	return containsAny(joined, credentialKeywords)
}

// classifyToolIntent maps one tool call site to an intent type and risk.
// First match wins, ordered from most to least specific.
func classifyToolIntent(site ToolCallSite) (IntentType, RiskLevel) {
	ns := strings.ToLower(site.Namespace)
	method := site.Method
	switch {
	case remoteShellNamespaces[ns]:
		return IntentToolCall, RiskCritical
	case nsKeywordMatch(site.Namespace, highPrivKeywords):
		return IntentToolCall, RiskCritical
	case schedulingNamespaces[ns]:
		return IntentScheduling, RiskMedium
	case networkToolNamespaces[ns]:
		return IntentNetwork, RiskHigh
	case anyVerbMatch(method, destructiveVerbs):
		return IntentDataDelete, RiskCritical
	case anyVerbMatch(method, deleteVerbs):
		return IntentDataDelete, RiskHigh
	case anyVerbMatch(method, networkSendVerbs):
		return IntentNetwork, RiskHigh
	case anyVerbMatch(method, writeVerbs):
		return IntentDataWrite, RiskMedium
	case anyVerbMatch(method, readVerbs):
		if isCredentialTool(site.Namespace, method) {
			return IntentDataRead, RiskHigh
		}
		return IntentDataRead, RiskLow
	default:
		return IntentToolCall, RiskLow
	}
}

// ---------------------------------------------------------------------------
// Scope enforcement
// ---------------------------------------------------------------------------

// toolMatches reports whether a policy entry names this call site, either
// as the qualified tool name or as a bare namespace.
func toolMatches(entry string, site ToolCallSite) bool {
	return entry == site.Tool || entry == site.Namespace
}

// scopeViolation returns a rejection reason if the call site falls
// outside the context's tool scope, or "" if it is in scope. Blocked
// entries win over everything else.
func scopeViolation(site ToolCallSite, vctx *ValidationContext) string {
	for _, blocked := range vctx.BlockedTools {
		if toolMatches(blocked, site) {
			return fmt.Sprintf("tool %q is blocked by policy", site.Tool)
		}
	}
	if len(vctx.AllowedTools) > 0 {
		for _, allowed := range vctx.AllowedTools {
			if toolMatches(allowed, site) {
				return ""
			}
		}
		return fmt.Sprintf("tool %q is not in the allowed set", site.Tool)
	}
	for _, ns := range vctx.AvailableNamespaces {
		if ns == site.Namespace {
			return ""
		}
	}
	for _, ns := range vctx.BuiltinNamespaces {
		if ns == site.Namespace {
			return ""
		}
	}
	return fmt.Sprintf("tool namespace %q is not available to this execution", site.Namespace)
}

// ---------------------------------------------------------------------------
// Composite patterns
// ---------------------------------------------------------------------------

// harvestThreshold is the number of distinct credential tools read before
// the script counts as credential harvesting.
const harvestThreshold = 3

// compositeReason detects attack-shaped patterns across the intent list,
// which must be ordered by line. A match rejects the script whatever the
// risk ceiling is. It returns "" when none match.
func compositeReason(intents []Intent) string {
	credentialReadLine := 0
	credentialTools := map[string]bool{}
	for _, it := range intents {
		ns, method := splitTool(it.Tool)
		if remoteShellNamespaces[strings.ToLower(ns)] {
			return fmt.Sprintf("namespace %q is shaped like remote-shell tooling", ns)
		}
		if anyVerbMatch(method, destructiveVerbs) {
			return fmt.Sprintf("%s performs a bulk destructive operation", it.Tool)
		}
		if it.Type == IntentDataRead && isCredentialTool(ns, method) {
			credentialTools[it.Tool] = true
			if credentialReadLine == 0 {
				credentialReadLine = it.Line
			}
			continue
		}
		if it.Type == IntentNetwork && credentialReadLine > 0 && it.Line > credentialReadLine {
			return "credential read followed by a network send suggests exfiltration"
		}
	}
	if len(credentialTools) >= harvestThreshold {
		return fmt.Sprintf("script reads %d distinct credential tools", len(credentialTools))
	}
	return ""
}

func splitTool(tool string) (namespace, method string) {
	if idx := strings.IndexByte(tool, ':'); idx >= 0 {
		return tool[:idx], tool[idx+1:]
	}
	return tool, ""
}

// ---------------------------------------------------------------------------
// Validation pipeline
// ---------------------------------------------------------------------------

func reject(res *SemanticResult, reason string) *SemanticResult {
	res.Approved = false
	res.Reason = reason
	return res
}

// validateRules runs the full semantic pipeline: classify every call
// site, enforce tool scope, detect composite patterns, then compare the
// resulting risk against the context's ceiling.
func validateRules(lines []string, analysis *AnalysisResult, vctx *ValidationContext) *SemanticResult {
	res := &SemanticResult{}

	for _, site := range analysis.ToolCalls {
		intentType, risk := classifyToolIntent(site)
		res.Intents = append(res.Intents, Intent{
			Type:     intentType,
			Tool:     site.Tool,
			Risk:     risk,
			Evidence: sourceLine(lines, site.Line),
			Line:     site.Line,
		})
	}
	directNetwork := len(analysis.NetworkCalls) > 0
	for _, nc := range analysis.NetworkCalls {
		res.Intents = append(res.Intents, Intent{
			Type:     IntentNetwork,
			Tool:     nc.Construct,
			Risk:     RiskHigh,
			Evidence: sourceLine(lines, nc.Line),
			Line:     nc.Line,
		})
	}
	sort.SliceStable(res.Intents, func(i, j int) bool {
		return res.Intents[i].Line < res.Intents[j].Line
	})

	for _, it := range res.Intents {
		if it.Risk > res.Risk {
			res.Risk = it.Risk
		}
	}

	for _, site := range analysis.ToolCalls {
		if reason := scopeViolation(site, vctx); reason != "" {
			return reject(res, reason)
		}
	}

	// Composite patterns reject regardless of the configured ceiling.
	if reason := compositeReason(res.Intents); reason != "" {
		res.Risk = RiskCritical
		return reject(res, reason)
	}

	if directNetwork && !vctx.AllowNetwork {
		nc := analysis.NetworkCalls[0]
		return reject(res, fmt.Sprintf("direct network access (%s at line %d) is not permitted; use a declared tool", nc.Construct, nc.Line))
	}

	if res.Risk > vctx.MaxRiskLevel {
		return reject(res, fmt.Sprintf("script risk %s exceeds the configured maximum %s", res.Risk, vctx.MaxRiskLevel))
	}

	if !vctx.AllowScheduling {
		for _, it := range res.Intents {
			if it.Type == IntentScheduling {
				return reject(res, fmt.Sprintf("scheduling via %q is not permitted by this context", it.Tool))
			}
		}
	}

	writes := 0
	for _, it := range res.Intents {
		if it.Type == IntentDataWrite {
			writes++
		}
	}
	if writes >= batchRecommendThreshold {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("script performs %d separate writes; a batch tool call would reduce round trips", writes))
	}
	if directNetwork && vctx.AllowNetwork {
		res.Recommendations = append(res.Recommendations,
			"prefer declared tools over direct network constructs so traffic stays auditable")
	}

	res.Approved = true
	return res
}
