package keyword

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Match is the result of a successful [Matcher.Match].
type Match struct {
	Spell Spell

	// Score is 1 for a literal match and the Jaro-Winkler similarity of the
	// best window for a phonetic one.
	Score float64

	// Phonetic is true when the literal pass failed and the fallback matched.
	Phonetic bool
}

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithPhonetic enables the phonetic fallback used when no trigger occurs
// literally in the transcript.
func WithPhonetic(enabled bool) MatcherOption {
	return func(m *Matcher) { m.phonetic = enabled }
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score accepted for a
// window whose Double Metaphone codes overlap the trigger's. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score accepted when the
// codes do not overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher finds the first registered trigger contained in a transcript.
//
// The literal pass is a case-insensitive substring search over spells in
// registration order; the first hit wins. When enabled, the phonetic pass
// slides windows of transcript words over each trigger and ranks them with
// Double Metaphone code overlap and Jaro-Winkler similarity, so that
// "fire ball" still finds "fireball".
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phonetic          bool
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a matcher with the phonetic fallback disabled unless
// [WithPhonetic] is given.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Phonetic reports whether the phonetic fallback is enabled.
func (m *Matcher) Phonetic() bool { return m.phonetic }

// Match returns the spell whose trigger occurs in transcript.
func (m *Matcher) Match(transcript string, spells []Spell) (Match, bool) {
	text := NormalizeTrigger(transcript)
	if text == "" {
		return Match{}, false
	}
	for _, s := range spells {
		if s.Trigger != "" && strings.Contains(text, s.Trigger) {
			return Match{Spell: s, Score: 1}, true
		}
	}
	if !m.phonetic {
		return Match{}, false
	}
	return m.matchPhonetic(words(text), spells)
}

func (m *Matcher) matchPhonetic(tokens []string, spells []Spell) (Match, bool) {
	if len(tokens) == 0 {
		return Match{}, false
	}

	var best Match
	found := false
	for _, s := range spells {
		trig := words(s.Trigger)
		if len(trig) == 0 {
			continue
		}
		trigCodes := codesForTokens(trig)
		trigFull := strings.Join(trig, " ")

		for size := max(1, len(trig)-1); size <= len(trig)+1; size++ {
			for start := 0; start+size <= len(tokens); start++ {
				win := tokens[start : start+size]
				score := bestJWScore(win, trig, strings.Join(win, " "), trigFull)
				threshold := m.fuzzyThreshold
				if codesOverlap(codesForTokens(win), trigCodes) {
					threshold = m.phoneticThreshold
				}
				if score < threshold {
					continue
				}
				// Strictly greater keeps the earlier registration on ties.
				if !found || score > best.Score {
					best = Match{Spell: s, Score: score, Phonetic: true}
					found = true
				}
			}
		}
	}
	return best, found
}

// words splits text into lower-case words, dropping punctuation.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	// The joined form lets "fire ball" share a code with "fireball".
	if len(tokens) > 1 {
		p, s := matchr.DoubleMetaphone(strings.Join(tokens, ""))
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity between a window and a
// trigger over three comparisons: the full strings, the strings with spaces
// removed, and, for multi-word triggers, the mean of the position-wise word
// scores when both sides have the same word count.
func bestJWScore(win, trig []string, winFull, trigFull string) float64 {
	score := matchr.JaroWinkler(winFull, trigFull, false)

	if len(win) > 1 || len(trig) > 1 {
		if s := matchr.JaroWinkler(strings.Join(win, ""), strings.Join(trig, ""), false); s > score {
			score = s
		}
	}

	if len(trig) > 1 && len(win) == len(trig) {
		var sum float64
		for i := range trig {
			sum += matchr.JaroWinkler(win[i], trig[i], false)
		}
		if s := sum / float64(len(trig)); s > score {
			score = s
		}
	}
	return score
}
