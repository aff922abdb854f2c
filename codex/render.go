package codex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// noContentPlaceholder is returned instead of an empty string so callers can
// tell "the backend returned nothing" apart from an empty success.
const noContentPlaceholder = "(no content)"

// RenderResult turns a tool call result's content list into reply text.
// Text items are trimmed, tool items become a one-line summary with their
// output attached, and anything unrecognized is pretty-printed JSON. Items
// are joined with blank lines.
func RenderResult(res *CallResult) string {
	var parts []string
	for i := range res.Content {
		item := &res.Content[i]
		switch item.Type {
		case "text":
			if t := strings.TrimSpace(item.Text); t != "" {
				parts = append(parts, t)
			}
		case "tool":
			parts = append(parts, fmt.Sprintf("Tool %s status=%s output:\n%s",
				item.Name, item.Status, item.Output))
		default:
			parts = append(parts, prettyJSON(item.Raw))
		}
	}
	if len(parts) == 0 {
		return noContentPlaceholder
	}
	return strings.Join(parts, "\n\n")
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return noContentPlaceholder
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
