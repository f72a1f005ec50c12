// Package extract parses structured caller data out of free-form speech.
//
// Transcripts from live calls are noisy: numbers arrive as spoken words
// ("nine six eight"), names are buried in introductions, and punctuation
// is whatever the transcriber felt like. These helpers pull out a phone
// number or a caller name opportunistically so the client can identify a
// caller without an explicit form. Both functions are pure.
package extract

import (
	"regexp"
	"strings"
)

// digitWords maps spoken digits to numerals. "oh" is the common spoken
// form of zero mid-number.
var digitWords = map[string]string{
	"zero": "0", "oh": "0",
	"one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

var wordRe = regexp.MustCompile(`[a-zA-Z']+`)

// separator runes that do not break a digit run.
func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', '.', '-', '(', ')', '+', '/':
		return true
	}
	return false
}

// PhoneNumber extracts a 10-digit phone number from spoken text.
// Digit words are normalized to numerals, separators are ignored, and
// the first run of at least 10 consecutive digits wins. The last 10
// digits of the run are returned so country-code prefixes are dropped.
// ok is false when no qualifying run exists.
func PhoneNumber(text string) (number string, ok bool) {
	normalized := wordRe.ReplaceAllStringFunc(strings.ToLower(text), func(w string) string {
		if d, found := digitWords[w]; found {
			return d
		}
		return w
	})

	var run strings.Builder
	flush := func() (string, bool) {
		if run.Len() >= 10 {
			digits := run.String()
			return digits[len(digits)-10:], true
		}
		run.Reset()
		return "", false
	}

	for _, r := range normalized {
		switch {
		case r >= '0' && r <= '9':
			run.WriteRune(r)
		case isSeparator(r):
			// Separators join digit groups ("555-123-4567").
		default:
			if n, found := flush(); found {
				return n, true
			}
		}
	}
	return flush()
}

// Introductory phrases that precede a caller's name.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is ([a-zA-Z]+)`),
	regexp.MustCompile(`(?i)\bname's ([a-zA-Z]+)`),
	regexp.MustCompile(`(?i)\bthis is ([a-zA-Z]+)`),
	regexp.MustCompile(`(?i)\bi'?m ([a-zA-Z]+)`),
	regexp.MustCompile(`(?i)\bi am ([a-zA-Z]+)`),
	regexp.MustCompile(`(?i)\bcall me ([a-zA-Z]+)`),
}

// Words the intro patterns routinely capture that are never names.
var notNames = map[string]bool{
	"calling":    true,
	"here":       true,
	"sorry":      true,
	"good":       true,
	"fine":       true,
	"not":        true,
	"just":       true,
	"trying":     true,
	"looking":    true,
	"going":      true,
	"wondering":  true,
	"interested": true,
	"afraid":     true,
	"sure":       true,
	"the":        true,
	"a":          true,
	"an":         true,
	"so":         true,
	"very":       true,
	"really":     true,
}

// Name extracts a caller's name from an introduction in spoken text.
// Matches phrases like "my name is X", "I'm X", "this is X", "call me X"
// and rejects common false-positive captures ("I'm calling about...").
// The returned name is capitalized. ok is false when nothing matched.
func Name(text string) (name string, ok bool) {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		candidate := strings.ToLower(m[1])
		if notNames[candidate] {
			continue
		}
		return strings.ToUpper(candidate[:1]) + candidate[1:], true
	}
	return "", false
}
