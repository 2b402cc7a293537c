// Package intent provides the fast local shortcut classifier that
// answers trivial turns (greetings, farewells, thanks) without paying
// any network cost. It runs before every cache and backend lookup.
package intent

import "strings"

// Trivial intents the shortcut can resolve.
const (
	Greeting = "greeting"
	Farewell = "farewell"
	Thanks   = "thanks"
)

// Result is a shortcut classification.
type Result struct {
	Intent     string
	Confidence float64
}

// keyword tables per intent. Matching is substring-based over the
// normalized utterance, mirroring the keyword heuristics the offline
// backend uses for non-trivial intents.
var keywords = map[string][]string{
	Greeting: {
		"merhaba", "selam", "günaydın", "iyi günler", "iyi akşamlar",
		"hello", "hi ", "good morning", "good afternoon", "good evening",
	},
	Farewell: {
		"hoşça kal", "hoşçakal", "görüşürüz", "iyi geceler", "güle güle",
		"goodbye", "bye", "see you", "good night",
	},
	Thanks: {
		"teşekkür", "sağ ol", "sağol", "çok naziksiniz",
		"thank you", "thanks", "appreciate",
	},
}

// Short utterances match exactly after normalization; these avoid
// false positives like "hi" inside another word.
var exact = map[string]string{
	"selam":  Greeting,
	"hi":     Greeting,
	"hey":    Greeting,
	"bye":    Farewell,
	"thanks": Thanks,
}

// Classify returns the shortcut intent for the utterance, or ok=false
// when no trivial intent applies. Longer utterances get a lower
// confidence since trailing content usually carries a real request
// ("merhaba, randevumu iptal etmek istiyorum" is not just a greeting).
func Classify(text string) (Result, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return Result{}, false
	}

	if in, ok := exact[strings.Trim(norm, "!.?, ")]; ok {
		return Result{Intent: in, Confidence: 0.98}, true
	}

	padded := " " + norm + " "
	for in, words := range keywords {
		for _, w := range words {
			if strings.Contains(padded, w) {
				conf := 0.95
				if len([]rune(norm)) > 25 {
					conf = 0.6
				}
				return Result{Intent: in, Confidence: conf}, true
			}
		}
	}
	return Result{}, false
}

// canned localized replies per intent and language.
var replies = map[string]map[string]string{
	Greeting: {
		"tr": "Merhaba! Size nasıl yardımcı olabilirim?",
		"en": "Hello! How can I help you today?",
	},
	Farewell: {
		"tr": "Görüşmek üzere, iyi günler dileriz!",
		"en": "Goodbye, have a great day!",
	},
	Thanks: {
		"tr": "Rica ederim! Başka bir konuda yardımcı olabilir miyim?",
		"en": "You're welcome! Is there anything else I can help with?",
	},
}

// Reply returns the canned localized response for a trivial intent,
// falling back to Turkish for unknown languages.
func Reply(intentName, language string) string {
	byLang, ok := replies[intentName]
	if !ok {
		return ""
	}
	if reply, ok := byLang[language]; ok {
		return reply
	}
	return byLang["tr"]
}
