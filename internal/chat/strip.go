package chat

import (
	"regexp"
	"strings"
)

// reasoningSpan matches one <think>...</think> block, shortest first.
var reasoningSpan = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Strip removes every reasoning span from a model reply and trims the rest.
// An opening marker with no closing marker is kept verbatim.
func Strip(reply string) string {
	return strings.TrimSpace(reasoningSpan.ReplaceAllString(reply, ""))
}
