// Package envutil manipulates environ-style []string slices. The sandbox
// child process receives a minimal environment built with Keep plus a
// marker variable set with SetEnv; the child itself finds the marker
// with GetEnv.
package envutil

import (
	"strings"
)

// SetEnv sets or replaces an environment variable in an env slice.
// Returns the modified slice. If the key already exists, its value is updated
// in place. Otherwise, the new entry is appended.
func SetEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// GetEnv gets a value from an env slice.
// Returns the value and true if found, or empty string and false if not.
func GetEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):], true
		}
	}
	return "", false
}

// Keep returns only the entries of env whose key appears in keys.
// Everything else (credentials, tokens, proxy settings) is dropped.
// Entry order from env is preserved.
func Keep(env []string, keys ...string) []string {
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	result := make([]string, 0, len(keys))
	for _, e := range env {
		key := e
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			key = e[:idx]
		}
		if allowed[key] {
			result = append(result, e)
		}
	}
	return result
}
