package legato

import "math"

const (
	// ChordThresholdMs is the window inside which a note-on counts as part of a chord
	ChordThresholdMs = 25.0

	// MinBendTimeMs is the shortest pitch ramp ever requested
	MinBendTimeMs = 10.0

	// MinStepRate is the shortest glide/trill step in seconds
	MinStepRate = 0.04

	// BendTableSize is the number of semitone intervals covered by the bend lookup table
	BendTableSize = 12
)

// Class is the result of classifying a note-on
type Class int

const (
	ClassPhraseNote Class = iota
	ClassChord
)

// Classify decides whether a note-on at nowMs belongs to a chord started at lastMs.
// Only timing is considered, pitches are ignored.
func Classify(nowMs, lastMs float64) Class {
	if nowMs-lastMs <= ChordThresholdMs {
		return ClassChord
	}
	return ClassPhraseNote
}

// BendTable maps an interval of i+1 semitones to a bend amount in cents
type BendTable [BendTableSize]float64

// NewBendTable spreads the bend linearly from minBend towards maxBend over one octave
func NewBendTable(minBend, maxBend float64) BendTable {
	var t BendTable
	for i := range t {
		t[i] = float64(i+1)*(maxBend-minBend)/BendTableSize + minBend
	}
	return t
}

// Lookup returns the bend for an interval, clamping wide intervals to the octave entry
func (t BendTable) Lookup(interval int) float64 {
	if interval <= 0 {
		return 0
	}
	if interval > BendTableSize {
		interval = BendTableSize
	}
	return t[interval-1]
}

// FadeTime returns the crossfade time in ms for a transition.
// Fast playing shortens the fade down to half of baseFadeMs, wide intervals
// lengthen it and hard attacks make it 20% snappier.
func FadeTime(interval, velocity int, elapsedMs, baseFadeMs float64) float64 {
	fade := elapsedMs
	if fade <= baseFadeMs*0.5 {
		fade = baseFadeMs * 0.5
	}
	if fade >= baseFadeMs {
		fade = baseFadeMs
	}
	fade += float64(interval * 2)
	if velocity > 64 {
		fade -= fade * 0.2
	}
	return fade
}

// BendTime returns the pitch ramp time in ms, never below MinBendTimeMs
func BendTime(fadeMs, offsetMs float64) float64 {
	bend := fadeMs + offsetMs
	if bend < MinBendTimeMs {
		bend = MinBendTimeMs
	}
	return bend
}

// BendAmount returns the bend in cents for a transition, negative when the
// target is below the origin
func BendAmount(interval int, descending bool, table BendTable) float64 {
	amount := table.Lookup(interval)
	if descending {
		amount = -amount
	}
	return amount
}

// StepRate returns the glide/trill step length in seconds.
// At the maximum rate index the rate is derived from velocity instead. Glide
// rates are per semitone step so they are divided across the interval.
func StepRate(interval, velocity, rateIndex int, glide bool, tempoMs func(int) float64) float64 {
	if rateIndex >= MaxRateIndex {
		rateIndex = VelocityRateIndex(velocity)
	}
	rate := tempoMs(rateIndex) / 1000
	if glide && interval > 0 {
		rate /= float64(interval)
	}
	if rate < MinStepRate || math.IsNaN(rate) {
		rate = MinStepRate
	}
	return rate
}

// VelocityRateIndex maps a velocity onto the tempo-sync indexes below MaxRateIndex
func VelocityRateIndex(velocity int) int {
	idx := int(math.Floor(float64(velocity) / float64(MaxRateIndex-1)))
	if idx > MaxRateIndex-1 {
		idx = MaxRateIndex - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
