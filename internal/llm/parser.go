package llm

import "strings"

// CleanCodeFence strips markdown code fences that providers sometimes wrap
// around JSON output, so the remainder can be unmarshaled directly.
func CleanCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	// Drop the opening fence line, including any language tag.
	if idx := strings.Index(content, "\n"); idx >= 0 {
		content = content[idx+1:]
	} else {
		content = strings.TrimPrefix(content, "```")
	}
	if idx := strings.LastIndex(content, "```"); idx >= 0 {
		content = content[:idx]
	}

	return strings.TrimSpace(content)
}
