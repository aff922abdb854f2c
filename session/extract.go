package session

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// ExtractConversationID searches an arbitrarily shaped backend payload for an
// embedded conversation or session identifier. The backend does not surface a
// single well-typed field across all of its message types, so the search is a
// heuristic over key names:
//
//   - a string field matches when its key (case-insensitively) contains both
//     "conversation" and "id", or both "session" and "id";
//   - a string field literally named "id" matches when its containing object
//     looks like a conversation container: it has a "type" value mentioning
//     "conversation" or "session", or any other key containing one of those
//     words.
//
// Traversal is breadth-first with keys visited in sorted order, so the result
// is deterministic for a given payload. The function is pure; callers may
// invoke it repeatedly on the same payload.
func ExtractConversationID(payload any) (string, bool) {
	visited := make(map[uintptr]bool)
	queue := []any{payload}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		switch v := node.(type) {
		case map[string]any:
			if seen(visited, v) {
				continue
			}
			if id, ok := matchObject(v); ok {
				return id, true
			}
			for _, k := range sortedKeys(v) {
				queue = append(queue, v[k])
			}
		case []any:
			if seen(visited, v) {
				continue
			}
			queue = append(queue, v...)
		}
	}
	return "", false
}

// ExtractConversationIDRaw decodes a raw JSON payload and runs the
// extraction heuristic over it.
func ExtractConversationIDRaw(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false
	}
	return ExtractConversationID(payload)
}

// matchObject inspects the string fields of one object, in sorted key order.
func matchObject(obj map[string]any) (string, bool) {
	containerish := looksLikeConversationContainer(obj)
	for _, k := range sortedKeys(obj) {
		s, isString := obj[k].(string)
		if !isString || s == "" {
			continue
		}
		key := strings.ToLower(k)
		hasID := strings.Contains(key, "id")
		if hasID && (strings.Contains(key, "conversation") || strings.Contains(key, "session")) {
			return s, true
		}
		if key == "id" && containerish {
			return s, true
		}
	}
	return "", false
}

// looksLikeConversationContainer reports whether an object plausibly wraps a
// conversation, making its bare "id" field meaningful.
func looksLikeConversationContainer(obj map[string]any) bool {
	if t, ok := obj["type"].(string); ok {
		lt := strings.ToLower(t)
		if strings.Contains(lt, "conversation") || strings.Contains(lt, "session") {
			return true
		}
	}
	for k := range obj {
		key := strings.ToLower(k)
		if key == "id" {
			continue
		}
		if strings.Contains(key, "conversation") || strings.Contains(key, "session") {
			return true
		}
	}
	return false
}

// seen marks a map or slice as visited, guarding against cyclic payloads
// assembled in memory. Returns true if the node was already visited.
func seen(visited map[uintptr]bool, node any) bool {
	ptr := reflect.ValueOf(node).Pointer()
	if visited[ptr] {
		return true
	}
	visited[ptr] = true
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
