package llm

import "strings"

// SplitCredentials parses a raw comma-separated credential string into
// individual trimmed, non-empty credentials.
func SplitCredentials(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ResolveCredentials merges the user-scoped and system-scoped
// credential strings into one ordered pool. User credentials come
// first so they keep priority position over identical system ones;
// duplicates keep their first-seen slot.
func ResolveCredentials(userKeys, systemKeys string) []string {
	var pool []string
	seen := make(map[string]bool)
	for _, k := range append(SplitCredentials(userKeys), SplitCredentials(systemKeys)...) {
		if seen[k] {
			continue
		}
		seen[k] = true
		pool = append(pool, k)
	}
	return pool
}

// MaskCredential returns the last four characters of a credential,
// prefixed with an ellipsis, for logging without leaking secrets.
func MaskCredential(key string) string {
	if len(key) <= 4 {
		return "..." + key
	}
	return "..." + key[len(key)-4:]
}
