// Package normalize produces canonical cache keys from raw subtitle cues
// and decides whether a cue needs translation at all.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

// Key maps raw cue text to its canonical cache/dedup form: newlines and
// runs of whitespace collapse to a single space, leading/trailing space is
// trimmed, and the result is lower-cased. Key is idempotent; every cache
// read and write site must go through it.
func Key(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Decision classifies a cue before it reaches the translation queue.
type Decision int

const (
	// Translate means the cue carries translatable text.
	Translate Decision = iota
	// Echo means the cue is its own translation (no letters, a single
	// rune, or already in the target language) and must not be queued.
	Echo
)

// Triage decides whether a cue needs translation into the language given
// by its ISO 639-1 code. Echo cues are served verbatim from memory and
// never persisted.
func Triage(text string, targetISO string) Decision {
	trimmed := strings.TrimSpace(text)
	if !hasLetter(trimmed) {
		return Echo
	}
	if utf8.RuneCountInString(trimmed) <= 1 {
		return Echo
	}
	info := whatlanggo.Detect(trimmed)
	if info.IsReliable() && info.Lang.Iso6391() == targetISO {
		return Echo
	}
	return Translate
}

// ISO639Base reduces a regional language code such as "EN-US" or "pt-BR"
// to its lower-cased ISO 639-1 base.
func ISO639Base(code string) string {
	base, _, _ := strings.Cut(code, "-")
	return strings.ToLower(base)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
