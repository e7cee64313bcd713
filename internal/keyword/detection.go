// Package keyword turns the mono voice stream into keyword detections.
//
// A [Segmenter] runs on its own goroutine. It accumulates 16 kHz blocks into
// a voice buffer, decides from a tail-RMS silence gate when an utterance is
// complete, hands the buffer to a transcription engine and runs the
// transcript through a [Matcher] against the [Spellbook]. Detections are
// published into a [Slot] that keeps only the most recent one.
package keyword

import "time"

// DefaultConfidence is reported for every literal match.
const DefaultConfidence = 0.9

// Detection is a keyword heard in a transcript.
type Detection struct {
	// Keyword is the matched trigger phrase.
	Keyword string

	// Spell is the payload registered for Keyword.
	Spell string

	// Transcript is the trimmed, lower-cased text the match was found in.
	Transcript string

	// Confidence is [DefaultConfidence] for literal matches and scaled by the
	// similarity score for phonetic ones.
	Confidence float64

	// Phonetic is true when the match came from the phonetic fallback.
	Phonetic bool

	Timestamp time.Time
}

func newDetection(m Match, transcript string, at time.Time) Detection {
	conf := DefaultConfidence
	if m.Phonetic {
		conf *= m.Score
	}
	return Detection{
		Keyword:    m.Spell.Trigger,
		Spell:      m.Spell.Name(),
		Transcript: transcript,
		Confidence: conf,
		Phonetic:   m.Phonetic,
		Timestamp:  at,
	}
}
