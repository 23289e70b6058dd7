// Package intent classifies user utterances and routes them to an answering
// strategy.
package intent

import "strings"

type Intent string

const (
	Greeting Intent = "GREETING"
	General  Intent = "GENERAL"
	Textbook Intent = "TEXTBOOK"
)

var all = []Intent{Greeting, General, Textbook}

// Normalize maps raw model output onto an Intent. The output is matched by
// containment after trimming and upper-casing. Anything that names no
// category, or more than one, falls back to Textbook.
func Normalize(raw string) Intent {
	s := strings.ToUpper(strings.TrimSpace(raw))
	found := Intent("")
	for _, i := range all {
		if !strings.Contains(s, string(i)) {
			continue
		}
		if found != "" {
			return Textbook
		}
		found = i
	}
	if found == "" {
		return Textbook
	}
	return found
}

type Strategy string

const (
	Conversational Strategy = "conversational"
	Grounded       Strategy = "grounded"
)

// Route picks the answering strategy for an intent. Unknown intents are
// grounded.
func Route(i Intent) Strategy {
	switch i {
	case Greeting, General:
		return Conversational
	default:
		return Grounded
	}
}
