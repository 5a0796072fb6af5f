// Package fingerprint derives exact-match cache keys for tool calls and scores
// how worthwhile a call is to cache. Everything here is pure.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTransientKeys are parameters that identify a request rather than
// describe it. They never contribute to a fingerprint.
var DefaultTransientKeys = []string{
	"sessionId", "session_id",
	"contextId", "context_id",
	"conversationId", "conversation_id",
	"requestId", "request_id",
	"userId", "user_id",
	"timestamp",
}

var transientKeys = toSet(DefaultTransientKeys)

// Fingerprint returns a stable hex key for a tool call. Parameter order and
// transient identifiers do not affect the result.
func Fingerprint(toolName string, params map[string]any) string {
	return fingerprint(toolName, params, transientKeys)
}

func fingerprint(toolName string, params map[string]any, transient map[string]struct{}) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(toolName)))
	h.Write([]byte{0})
	h.Write(canonicalJSON(Canonicalize(params, transient)))
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize returns a copy of params with transient keys removed at every
// nesting level. Nil maps canonicalize to an empty map.
func Canonicalize(params map[string]any, transient map[string]struct{}) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if _, skip := transient[k]; skip {
			continue
		}
		out[k] = canonicalValue(v, transient)
	}
	return out
}

func canonicalValue(v any, transient map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return Canonicalize(t, transient)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalValue(e, transient)
		}
		return out
	}
	return v
}

// canonicalJSON relies on encoding/json writing map keys in sorted order.
func canonicalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// fmt also prints maps with sorted keys.
		return []byte(fmt.Sprintf("%v", v))
	}
	return b
}

func toSet(values []string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}
