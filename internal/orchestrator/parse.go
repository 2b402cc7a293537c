package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
)

// IntentTag is the structured classification the primary backend
// appends to its reply text.
type IntentTag struct {
	Intent     string
	Confidence float64
}

// tagPattern matches a trailing "[INTENT:x CONFIDENCE:y]" marker,
// tolerating extra whitespace around the fields.
var tagPattern = regexp.MustCompile(`\[\s*INTENT:\s*([A-Za-z0-9_-]+)\s+CONFIDENCE:\s*([0-9.]+)\s*\]\s*$`)

// ParseIntentTag strips the trailing intent marker from a primary
// backend reply. A missing or malformed tag yields intent "unknown"
// with confidence 0.5 and the reply text untouched; the reply is
// still served either way.
func ParseIntentTag(raw string) (string, IntentTag) {
	tag := IntentTag{Intent: "unknown", Confidence: 0.5}
	text := strings.TrimSpace(raw)

	m := tagPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return text, tag
	}

	tag.Intent = text[m[2]:m[3]]
	if conf, err := strconv.ParseFloat(text[m[4]:m[5]], 64); err == nil {
		switch {
		case conf < 0:
			conf = 0
		case conf > 1:
			conf = 1
		}
		tag.Confidence = conf
	}
	return strings.TrimSpace(text[:m[0]]), tag
}
