// Package vad classifies audio blocks as speech or silence.
//
// The [Classifier] interface lets the segmenter swap detection strategies.
// [RMSClassifier] is the built-in energy gate: a block is silent when the
// root-mean-square amplitude of its most recent samples is below a threshold.
//
// Classifiers are stateless and safe for concurrent use.
package vad

import "github.com/MrWong99/spellcast/pkg/audio"

// Default RMS gate parameters for 16 kHz mono input normalised to [-1, 1].
const (
	DefaultThreshold = 0.015
	DefaultWindow    = 512
)

// Classifier decides whether a block of mono samples contains speech.
type Classifier interface {
	// IsSilent reports whether block should be treated as silence. An empty
	// block is always silent.
	IsSilent(block []float32) bool
}

// RMSClassifier is an energy-based [Classifier].
type RMSClassifier struct {
	// Threshold is the RMS level below which audio is silent.
	Threshold float64

	// Window limits the measurement to the last Window samples of a block.
	// Zero or negative measures the whole block.
	Window int
}

// Compile-time interface assertion.
var _ Classifier = RMSClassifier{}

// NewRMSClassifier returns a classifier with the default threshold and window.
func NewRMSClassifier() RMSClassifier {
	return RMSClassifier{Threshold: DefaultThreshold, Window: DefaultWindow}
}

// Level returns the RMS of the measured tail of block.
func (c RMSClassifier) Level(block []float32) float64 {
	if c.Window > 0 && len(block) > c.Window {
		block = block[len(block)-c.Window:]
	}
	return audio.RMS(block)
}

// IsSilent implements [Classifier].
func (c RMSClassifier) IsSilent(block []float32) bool {
	if len(block) == 0 {
		return true
	}
	return c.Level(block) < c.Threshold
}

// IsSilentWhole reports whether the entire block is below the threshold,
// ignoring Window.
func (c RMSClassifier) IsSilentWhole(block []float32) bool {
	if len(block) == 0 {
		return true
	}
	return audio.RMS(block) < c.Threshold
}
